package core

import (
	"context"
	"log"
	"time"
)

// Audit event kinds.
const (
	AuditLogin            = "login"
	AuditLoginFailed      = "login_failed"
	AuditLoginDenied      = "login_denied"
	AuditLogout           = "logout"
	AuditValidationFailed = "validation_failed"
	AuditValidationDenied = "validation_denied"
)

// AuditEvent is one authentication-related event.
type AuditEvent struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditRecorder records auth events. Implementations must not block callers on failure.
type AuditRecorder interface {
	Record(ctx context.Context, ev AuditEvent)
}

// AuditLister is implemented by recorders that can page through past events.
type AuditLister interface {
	List(ctx context.Context, page, perPage int) ([]AuditEvent, int, error)
}

// LogAuditRecorder writes events to the process log only.
type LogAuditRecorder struct{}

func (LogAuditRecorder) Record(_ context.Context, ev AuditEvent) {
	log.Printf("auth event=%s user=%q role=%q detail=%q", ev.Kind, ev.Username, ev.Role, ev.Detail)
}
