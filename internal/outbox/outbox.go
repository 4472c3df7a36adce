// Package outbox relays messages written alongside domain changes to a
// message broker.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is an event stored in the same transaction as the change that
// produced it.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// NewMessage creates a Message with a fresh id.
func NewMessage(topic, key string, payload []byte) Message {
	return Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Store reads unsent messages and marks them sent.
type Store interface {
	// Pending returns up to limit unsent messages, oldest first.
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, ids []string) error
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Relay periodically moves pending messages from the Store to the
// Publisher. Delivery is at least once: a message published but not yet
// marked sent is published again on the next pass.
type Relay struct {
	store    Store
	pub      Publisher
	interval time.Duration
	batch    int
	lg       *zap.Logger
}

// NewRelay creates a Relay.
func NewRelay(store Store, pub Publisher, interval time.Duration, batch int, lg *zap.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{store: store, pub: pub, interval: interval, batch: batch, lg: lg}
}

// Run relays until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					r.lg.Warn("Outbox relay failed", zap.Error(err))
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// Flush relays one batch and returns how many messages were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "load pending")
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := r.pub.Publish(ctx, msgs...); err != nil {
		return 0, errors.Wrap(err, "publish")
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark sent")
	}

	r.lg.Debug("Outbox relayed", zap.Int("count", len(msgs)))
	return len(msgs), nil
}
