package session

import (
	"context"
	"log/slog"

	"reading-platform/internal/audit"
)

// AuditAdapter satisfies Auditor on top of the audit service. Audit writes
// are best-effort: failures are logged and never surface into transitions.
type AuditAdapter struct {
	Audit *audit.Service
	Log   *slog.Logger
}

func (a AuditAdapter) Transition(ctx context.Context, sessionID string, from, to Status, actorID, reason string) {
	if a.Audit == nil {
		return
	}
	if err := a.Audit.LogTransition(ctx, sessionID, string(from), string(to), actorID, reason); err != nil {
		log := a.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("audit transition failed", "session_id", sessionID, "err", err)
	}
}
