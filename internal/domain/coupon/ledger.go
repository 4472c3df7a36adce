package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Ledger validates and deactivates user coupons. Expired coupons that are
// still flagged active are deactivated when they are next looked at; there
// is no background sweep.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Active returns the user's usable coupon, or nil when there is none.
func (l *Ledger) Active(ctx context.Context, userID string) (*Coupon, error) {
	c, err := l.repo.FindActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find active coupon")
	}

	if c.ExpiredAt(l.now()) {
		if err := l.repo.Deactivate(ctx, userID, c.Code); err != nil {
			return nil, errors.Wrap(err, "deactivate expired coupon")
		}
		return nil, nil
	}
	return c, nil
}

// Validate checks that code is an active, unexpired coupon owned by userID.
// It returns ErrNotFound or ErrExpired otherwise.
func (l *Ledger) Validate(ctx context.Context, userID, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := l.repo.FindActiveByCode(ctx, userID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.ExpiredAt(l.now()) {
		if err := l.repo.Deactivate(ctx, userID, c.Code); err != nil {
			return nil, errors.Wrap(err, "deactivate expired coupon")
		}
		return nil, ErrExpired
	}

	return c, nil
}

// Deactivate marks the user's coupon as used.
func (l *Ledger) Deactivate(ctx context.Context, userID, code string) error {
	if err := l.repo.Deactivate(ctx, userID, NormalizeCode(code)); err != nil {
		return errors.Wrap(err, "deactivate coupon")
	}
	return nil
}
