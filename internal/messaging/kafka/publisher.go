// Package kafka publishes outbox messages to Kafka.
package kafka

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/outbox"
)

var _ outbox.Publisher = (*Publisher)(nil)

// HeaderMessageID carries the outbox message id so consumers can drop
// redelivered messages.
const HeaderMessageID = "message_id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox messages to the topic each message names.
type Publisher struct {
	brokers []string
	w       messageWriter
	lg      *zap.Logger
}

// NewPublisher creates a Publisher for brokers.
func NewPublisher(brokers []string, lg *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger:            zap.NewStdLog(lg.With(zap.String("kafka_component", "writer"))),
	}
	lg.Info("Kafka publisher initialized", zap.Strings("brokers", brokers))
	return &Publisher{brokers: brokers, w: w, lg: lg}
}

// Publish writes msgs in one batch. Messages with the same key land on the
// same partition.
func (p *Publisher) Publish(ctx context.Context, msgs ...outbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{
			Topic: m.Topic,
			Key:   []byte(m.Key),
			Value: m.Payload,
			Time:  m.CreatedAt,
			Headers: []kafka.Header{
				{Key: HeaderMessageID, Value: []byte(m.ID)},
			},
		}
	}
	if err := p.w.WriteMessages(ctx, out...); err != nil {
		return errors.Wrapf(err, "write %d messages", len(out))
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Publisher) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return errors.Wrap(lastErr, "dial kafka")
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.w.Close()
}
