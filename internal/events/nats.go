package events

import (
	"context"
	"fmt"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/logger"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsSink publishes events to a JetStream stream, one subject per event type.
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

func NewNatsSink(url, stream, prefix string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		logger.Warn("Failed to ensure NATS stream", "stream", stream, "error", err)
	}

	return &NatsSink{nc: nc, js: js, prefix: prefix}, nil
}

func (s *NatsSink) Publish(ctx context.Context, e domain.Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	subject := Subject(s.prefix, e)
	// The event id doubles as the JetStream dedup id.
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(e.Meta().ID)); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

func (s *NatsSink) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
