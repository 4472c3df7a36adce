package coupon

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the user has no active coupon with the
	// given code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when a coupon is past its expiration date.
	ErrExpired = errors.New("coupon expired")
)

// Coupon is a per-user percentage discount. A user holds at most one active
// coupon at a time.
type Coupon struct {
	ID                 string
	Code               string
	UserID             string
	DiscountPercentage int
	ExpiresAt          time.Time
	Active             bool
	CreatedAt          time.Time
}

// ExpiredAt reports whether the coupon is past its expiration date at now.
func (c *Coupon) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	// FindActive returns the active coupon of the user or ErrNotFound.
	FindActive(ctx context.Context, userID string) (*Coupon, error)
	// FindActiveByCode returns the active coupon with the code owned by the
	// user or ErrNotFound.
	FindActiveByCode(ctx context.Context, userID, code string) (*Coupon, error)
	// Deactivate flips the coupon to inactive. Deactivating an inactive or
	// missing coupon is not an error.
	Deactivate(ctx context.Context, userID, code string) error
}

// Policy describes the loyalty coupon granted after a high value order.
type Policy struct {
	// Threshold is the minimum order total, in minor units, that earns a
	// coupon.
	Threshold  int64
	Percentage int
	Validity   time.Duration
	Prefix     string
}

// DefaultPolicy grants a 10% coupon valid for 30 days for orders of 200.00
// or more.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:  20000,
		Percentage: 10,
		Validity:   30 * 24 * time.Hour,
		Prefix:     "GIFT",
	}
}

// Qualifies reports whether an order total earns a loyalty coupon.
func (p Policy) Qualifies(total int64) bool {
	return total >= p.Threshold
}

const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 6
)

// NewGift builds the loyalty coupon for userID. It is not persisted.
func NewGift(userID string, now time.Time, p Policy) (Coupon, error) {
	suffix, err := randomCode(codeLength)
	if err != nil {
		return Coupon{}, errors.Wrap(err, "generate coupon code")
	}
	return Coupon{
		ID:                 uuid.New().String(),
		Code:               p.Prefix + suffix,
		UserID:             userID,
		DiscountPercentage: p.Percentage,
		ExpiresAt:          now.Add(p.Validity),
		Active:             true,
		CreatedAt:          now,
	}, nil
}

// NormalizeCode trims and upper-cases a user supplied coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomCode(n int) (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[i.Int64()])
	}
	return b.String(), nil
}
