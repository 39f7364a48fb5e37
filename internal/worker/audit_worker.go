package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/observability"
)

// StartAuditWorker subscribes the audit log and token counters to lifecycle events.
func StartAuditWorker(dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := logger.Named("audit")

	handler := func(_ context.Context, event events.Event) error {
		reason := ""
		if p, ok := event.Payload.(events.TokenRejectedPayload); ok {
			reason = p.Reason
		}
		metrics.RecordTokenEvent(string(event.Type), reason)
		audit.Info("token event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("subject_id", event.SubjectID),
			zap.String("token_id", event.TokenID),
			zap.Time("at", event.Timestamp),
			zap.Any("payload", event.Payload))
		return nil
	}

	for _, eventType := range []events.EventType{
		events.EventTokenIssued,
		events.EventTokenRefreshed,
		events.EventTokenRevoked,
		events.EventTokenRejected,
	} {
		dispatcher.Subscribe(eventType, handler)
	}
}
