package mfgauth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// logAudit records a security event. Audit writes never fail the request; a
// storage error is logged and dropped.
func (s *AuthService) logAudit(ctx context.Context, acct *Account, eventType string, r *http.Request, metadata map[string]any) {
	event := AuditEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if acct != nil {
		event.AccountID = acct.ID
		event.TenantID = acct.TenantID
	}
	if r != nil {
		event.IPAddress = clientIP(r)
		event.UserAgent = r.Header.Get("User-Agent")
	}

	if err := s.store.Audit().Insert(ctx, event); err != nil {
		s.logger.Error("audit log error",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
