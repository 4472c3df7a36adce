package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox_messages (id, topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	pendingOutboxSQL = `SELECT id, topic, key, payload, created_at FROM outbox_messages
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`

	markOutboxSentSQL = `UPDATE outbox_messages SET sent_at = now()
		WHERE id = ANY($1) AND sent_at IS NULL`
)

var _ outbox.Store = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Store backed by PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Pending returns up to limit unsent messages, oldest first.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := r.pool.Query(ctx, pendingOutboxSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending outbox messages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt)
		return m, err
	})
}

// MarkSent records the messages as delivered.
func (r *OutboxRepository) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return fmt.Errorf("marking outbox messages sent: %w", err)
	}
	return nil
}

func enqueue(ctx context.Context, q querier, m outbox.Message) error {
	if _, err := q.Exec(ctx, insertOutboxSQL, m.ID, m.Topic, m.Key, m.Payload, m.CreatedAt); err != nil {
		return fmt.Errorf("enqueueing %s message: %w", m.Topic, err)
	}
	return nil
}
