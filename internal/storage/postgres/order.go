package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/outbox"
)

const (
	orderColumns = `id, user_id, items, subtotal, discount, total, currency, coupon_code,
		provider, external_payment_ref, external_payment_id, created_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider, external_payment_ref) DO NOTHING`

	getOrderByIDSQL         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByPaymentRefSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE provider = $1 AND external_payment_ref = $2`
)

var _ order.Store = (*OrderRepository)(nil)

// OrderRepository implements order.Store backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns an order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return findOrder(ctx, r.pool, getOrderByIDSQL, id)
}

// InTx runs fn in a transaction. It commits when fn returns nil.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) (bool, error) {
	tag, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, encodeItems(o.Items), o.Subtotal, o.Discount, o.Total, o.Currency, o.CouponCode,
		string(o.Provider), o.PaymentRef, o.PaymentID, o.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *orderTx) FindByPaymentRef(ctx context.Context, provider payment.Provider, ref string) (*order.Order, error) {
	return findOrder(ctx, t.tx, getOrderByPaymentRefSQL, string(provider), ref)
}

func (t *orderTx) DeactivateCoupon(ctx context.Context, userID, code string) error {
	return deactivateCoupon(ctx, t.tx, userID, code)
}

func (t *orderTx) ReplaceActiveCoupon(ctx context.Context, c coupon.Coupon) error {
	return replaceCoupon(ctx, t.tx, c)
}

func (t *orderTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return enqueue(ctx, t.tx, msg)
}

func findOrder(ctx context.Context, q querier, sql string, args ...any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		items    []byte
		provider string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.Subtotal, &o.Discount, &o.Total, &o.Currency, &o.CouponCode,
		&provider, &o.PaymentRef, &o.PaymentID, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Provider = payment.Provider(provider)
	o.Items, err = decodeItems(items)
	return o, err
}

func encodeItems(items []order.Item) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Int64(it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeItems(raw []byte) ([]order.Item, error) {
	var items []order.Item
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "price":
				it.UnitPrice, err = d.Int64()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding order items: %w", err)
	}
	return items, nil
}
