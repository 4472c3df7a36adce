package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, user_id, discount_percentage, expires_at, is_active, created_at`

	findActiveCouponSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE user_id = $1 AND is_active
		ORDER BY created_at DESC LIMIT 1`

	findActiveCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE user_id = $1 AND code = $2 AND is_active`

	deactivateCouponSQL = `UPDATE coupons SET is_active = FALSE
		WHERE user_id = $1 AND code = $2 AND is_active`

	lockUserCouponsSQL   = `SELECT pg_advisory_xact_lock(hashtext('coupons:' || $1::text))`
	deleteUserCouponsSQL = `DELETE FROM coupons WHERE user_id = $1`
	insertCouponSQL      = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActive returns the user's coupon flagged active, expired or not.
// Returns coupon.ErrNotFound when there is none.
func (r *CouponRepository) FindActive(ctx context.Context, userID string) (*coupon.Coupon, error) {
	return findCoupon(ctx, r.pool, findActiveCouponSQL, userID)
}

// FindActiveByCode looks up an active coupon by owner and code.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, userID, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, r.pool, findActiveCouponByCodeSQL, userID, code)
}

// Deactivate flips the coupon to inactive. It is a no-op when the coupon is
// already inactive.
func (r *CouponRepository) Deactivate(ctx context.Context, userID, code string) error {
	return deactivateCoupon(ctx, r.pool, userID, code)
}

func findCoupon(ctx context.Context, q querier, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding coupon: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon: %w", err)
	}
	return &c, nil
}

func deactivateCoupon(ctx context.Context, q querier, userID, code string) error {
	if _, err := q.Exec(ctx, deactivateCouponSQL, userID, code); err != nil {
		return fmt.Errorf("deactivating coupon %q: %w", code, err)
	}
	return nil
}

// replaceCoupon must run inside a transaction: the advisory lock is held
// until it ends.
func replaceCoupon(ctx context.Context, tx pgx.Tx, c coupon.Coupon) error {
	if _, err := tx.Exec(ctx, lockUserCouponsSQL, c.UserID); err != nil {
		return fmt.Errorf("locking coupons of %q: %w", c.UserID, err)
	}
	if _, err := tx.Exec(ctx, deleteUserCouponsSQL, c.UserID); err != nil {
		return fmt.Errorf("deleting coupons of %q: %w", c.UserID, err)
	}
	_, err := tx.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.UserID, c.DiscountPercentage, c.ExpiresAt, c.Active, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q already has an active coupon: %w", c.UserID, err)
		}
		return fmt.Errorf("inserting coupon: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.UserID, &c.DiscountPercentage, &c.ExpiresAt, &c.Active, &c.CreatedAt)
	return c, err
}
