package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit events. Publishing is fail-open: a
// sink failure must never fail the business operation that emitted the
// event, so implementations log and drop rather than propagate.
type Publisher interface {
	Emit(ctx context.Context, event Event)
	Close() error
}

// stamp fills in the generated fields callers never set themselves.
func stamp(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

// LogPublisher writes audit events to the structured log. Used when no
// broker is configured and as the sink of last resort.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) {
	event = stamp(event)
	p.logger.InfoContext(ctx, "audit",
		"audit_id", event.ID,
		"action", event.Action,
		"user_id", event.UserID,
		"external_account_id", event.ExternalAccountID,
		"status", event.Status,
		"detail", event.Detail,
	)
}

func (p *LogPublisher) Close() error { return nil }
