package main

import (
	"reading-platform/internal/httpapi"
	"reading-platform/internal/rbac"
	"reading-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, balances wallet.BalanceService) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// SESSION routes
		sessions := v1.Group("/sessions")
		{
			// Requesting a reading is client-only and requires a funded wallet.
			sessions.POST("",
				rbac.RequireAnyRole(rbac.RoleClient),
				wallet.RequireFundedBalance(balances),
				h.RequestSession)

			sessions.POST("/:id/accept", rbac.RequireAnyRole(rbac.RoleReader), h.AcceptSession)
			// Either participant may start; the billing loop is the funds authority.
			sessions.POST("/:id/start", h.StartSession)
			sessions.POST("/:id/end", h.EndSession)
			sessions.POST("/:id/cancel", h.CancelSession)
			sessions.GET("/:id", h.GetSession)

			// Signaling websocket: offers, answers, ICE and chat relay.
			sessions.GET("/:id/ws", h.SessionWS)
		}

		// WEBRTC client config
		v1.GET("/rtc/config", h.RTCConfig)

		// WALLET routes
		walletGroup := v1.Group("/wallet")
		{
			walletGroup.GET("/balance", h.GetWalletBalance)
			walletGroup.GET("/ledger", h.ListWalletLedger)
		}

		// REPORTING routes
		reports := v1.Group("/reports")
		{
			reports.GET("/earnings", rbac.RequireAnyRole(rbac.RoleReader, rbac.RoleAdmin), h.ReaderEarnings)
			reports.GET("/spend", rbac.RequireAnyRole(rbac.RoleClient, rbac.RoleAdmin), h.ClientSpend)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.POST("/wallets/:user_id/credit", h.AdminManualCredit)
			admin.POST("/rates", h.PublishRateCard)
		}
	}
}
