package api

import (
	"context"
	"log/slog"
)

// audit emits a security-relevant event on the "audit" logger group.
func (h *Handler) audit(ctx context.Context, action string, attrs ...any) {
	h.log.InfoContext(ctx, action, slog.Group("audit", attrs...))
}

func (h *Handler) auditRegisterBlocked(ctx context.Context, ip, reason string) {
	h.audit(ctx, "auth.register.blocked", "ip", ip, "reason", reason)
}

func (h *Handler) auditRegistered(ctx context.Context, subjectID, ip string) {
	h.audit(ctx, "auth.register.success", "subject_id", subjectID, "ip", ip)
}

func (h *Handler) auditVerify(ctx context.Context, result, ip string) {
	h.audit(ctx, "auth.verify."+result, "ip", ip)
}

func (h *Handler) auditStatusChange(ctx context.Context, actorID, subjectID, status, ip string) {
	h.audit(ctx, "auth.subject.status_changed",
		"actor_id", actorID,
		"subject_id", subjectID,
		"status", status,
		"ip", ip,
	)
}
