package wallet

import (
	"context"
	"net/http"

	"reading-platform/internal/auth"
	"reading-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// BalanceService is the minimal wallet surface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
}

// RequireFundedBalance blocks a client from requesting or starting a session
// with an empty balance. This is a cheap front-door check only; the billing
// loop remains the authority on whether a session keeps running.
//
// Admin bypasses (moderation flows never touch their own wallet).
func RequireFundedBalance(svc BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsAdmin(role) {
			c.Next()
			return
		}

		userID, err := auth.UserID(c.Request.Context())
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.BalanceMinor <= 0 {
			// 402 Payment Required is semantically appropriate.
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}

		c.Next()
	}
}
