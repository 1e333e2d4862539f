package events

import (
	"context"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/logger"
)

// LogSink writes events to the structured log. Used when no broker is configured.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) Publish(ctx context.Context, e domain.Event) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	meta := e.Meta()
	logger.InfoContext(ctx, "Domain event", "event_id", meta.ID, "type", meta.Type, "rental_id", meta.RentalID, "payload", string(payload))
	return nil
}

func (LogSink) Close() error { return nil }
