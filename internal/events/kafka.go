package events

import (
	"context"
	"fmt"
	"strconv"

	"car-rental-backend/internal/domain"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a single topic keyed by rental id so each
// rental's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, e domain.Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	meta := e.Meta()
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(meta.RentalID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(meta.Type)},
			{Key: "event_id", Value: []byte(meta.ID)},
		},
		Time: meta.OccurredAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to kafka: %w", meta.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
