// Package payment opens checkout sessions with external payment providers
// and verifies their callbacks.
//
// Two provider styles are supported. The status-check style (Stripe
// checkout sessions) is confirmed by retrieving the session and checking its
// payment status. The signature style (Razorpay orders) is confirmed by
// recomputing an HMAC over the provider identifiers the buyer's browser
// returns. Both attach the same metadata to the provider record, and both
// reconstruct the order from that provider-held record only.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderRazorpay Provider = "razorpay"
)

var (
	// ErrInvalidSignature is returned when a signed callback does not match
	// the expected HMAC.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrPaymentNotConfirmed is returned when the provider does not report
	// the payment as completed.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrUnknownPayment is returned when the provider has no record of the
	// referenced session or order.
	ErrUnknownPayment = errors.New("unknown payment reference")
	// ErrUnknownProvider is returned for a provider that is not configured.
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrMalformedMetadata is returned when the provider record does not
	// carry metadata written by this service.
	ErrMalformedMetadata = errors.New("malformed payment metadata")
	// ErrCartTooLarge is returned when the cart does not fit in the
	// provider's metadata limits.
	ErrCartTooLarge = errors.New("cart too large for payment provider")
	// ErrNothingToCharge is returned when the discounted total is zero.
	ErrNothingToCharge = errors.New("nothing to charge")
)

// ProductNotFoundError indicates a cart line references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// GatewayError wraps a failure to reach the provider. It is retryable: no
// local state has been changed when it is returned.
type GatewayError struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err is a retryable provider failure.
func IsGatewayError(err error) bool {
	var gErr *GatewayError
	return errors.As(err, &gErr)
}

// Item is a trusted order line as recorded in provider metadata.
// UnitPrice is in minor units.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// Metadata is attached to the provider record when a session is opened and
// read back on verification.
type Metadata struct {
	UserID     string
	CouponCode string
	Items      []Item
}

// LineItem is a display line sent to the provider's hosted checkout.
type LineItem struct {
	ProductID string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int
}

// SessionRequest is everything a Gateway needs to open a session.
type SessionRequest struct {
	// Amount is the total to charge in minor units, after discount.
	Amount             int64
	Currency           string
	DiscountPercentage int
	Lines              []LineItem
	// Metadata is the encoded form of the session Metadata.
	Metadata map[string]string
}

// Session is a provider-side checkout session or order.
type Session struct {
	Provider Provider
	ID       string
	Amount   int64
	Currency string
	// URL is the hosted checkout page, when the provider has one.
	URL string
	// PublicKey is the key the browser widget needs, when the provider
	// uses one.
	PublicKey string
}

// Gateway opens sessions with a provider.
type Gateway interface {
	Provider() Provider
	Limits() MetadataLimits
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// CheckoutSession is the provider record for the status-check style.
type CheckoutSession struct {
	ID          string
	Paid        bool
	AmountTotal int64
	Currency    string
	PaymentID   string
	Metadata    map[string]string
}

// SessionLookup retrieves checkout sessions from the provider.
type SessionLookup interface {
	Session(ctx context.Context, id string) (*CheckoutSession, error)
}

// ProviderOrder is the provider record for the signature style.
type ProviderOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Notes    map[string]string
}

// OrderLookup retrieves orders from the provider.
type OrderLookup interface {
	Order(ctx context.Context, id string) (*ProviderOrder, error)
}

// Confirmation is a verified payment, built from provider-held state only.
type Confirmation struct {
	Provider Provider
	// PaymentRef is the provider session or order id the payment is keyed
	// by.
	PaymentRef string
	PaymentID  string
	// Amount is the provider-confirmed amount in minor units.
	Amount   int64
	Currency string
	Metadata Metadata
}
