package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/outbox"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a paid customer order. Orders are immutable once written and
// exist at most once per provider payment reference.
type Order struct {
	ID         string
	UserID     string
	Items      []Item
	Subtotal   int64
	Discount   int64
	Total      int64
	Currency   string
	CouponCode string
	Provider   payment.Provider
	PaymentRef string
	PaymentID  string
	CreatedAt  time.Time
}

// Item is a single order line. UnitPrice is in minor units.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// Repository defines read operations for orders.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
}

// Store persists orders together with their side effects.
type Store interface {
	Repository
	// InTx runs fn in a single transaction. Everything fn writes is
	// committed together or not at all.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes available inside a Store transaction.
type Tx interface {
	// InsertOrder writes o unless an order with the same provider and
	// payment reference exists. It reports whether a row was written.
	InsertOrder(ctx context.Context, o *Order) (bool, error)
	FindByPaymentRef(ctx context.Context, provider payment.Provider, ref string) (*Order, error)
	// DeactivateCoupon marks the user's coupon inactive. Deactivating an
	// already inactive or missing coupon is not an error.
	DeactivateCoupon(ctx context.Context, userID, code string) error
	// ReplaceActiveCoupon removes every coupon of c.UserID and stores c,
	// serialized per user.
	ReplaceActiveCoupon(ctx context.Context, c coupon.Coupon) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}
