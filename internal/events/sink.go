// Package events delivers domain events to the configured sink without
// making the caller wait for delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"car-rental-backend/internal/domain"
)

// Sink delivers one event to a transport.
type Sink interface {
	Publish(ctx context.Context, e domain.Event) error
	Close() error
}

// Envelope is the wire form of every event.
type Envelope struct {
	domain.EventMeta
	Payload domain.Event `json:"payload"`
}

func Encode(e domain.Event) ([]byte, error) {
	b, err := json.Marshal(Envelope{EventMeta: e.Meta(), Payload: e})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.Meta().Type, err)
	}
	return b, nil
}

// Subject is the routing name of an event under prefix.
func Subject(prefix string, e domain.Event) string {
	return fmt.Sprintf("%s.%s", prefix, e.Meta().Type)
}
