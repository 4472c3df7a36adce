package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// Verifier turns a provider callback into a Confirmation.
type Verifier interface {
	Provider() Provider
	Verify(ctx context.Context, cb Callback) (*Confirmation, error)
}

var (
	_ Verifier = (*StatusVerifier)(nil)
	_ Verifier = (*SignatureVerifier)(nil)
)

// StatusVerifier confirms status-check payments by retrieving the session
// from the provider.
type StatusVerifier struct {
	sessions SessionLookup
}

// NewStatusVerifier creates a StatusVerifier.
func NewStatusVerifier(sessions SessionLookup) *StatusVerifier {
	return &StatusVerifier{sessions: sessions}
}

func (*StatusVerifier) Provider() Provider { return ProviderStripe }

// Verify succeeds only when the provider reports the session as paid.
func (v *StatusVerifier) Verify(ctx context.Context, cb Callback) (*Confirmation, error) {
	c, ok := cb.(SessionCallback)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "stripe verifier got %s callback", cb.Provider())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s, err := v.sessions.Session(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if !s.Paid {
		return nil, ErrPaymentNotConfirmed
	}

	meta, err := DecodeMetadata(s.Metadata)
	if err != nil {
		return nil, err
	}

	return &Confirmation{
		Provider:   ProviderStripe,
		PaymentRef: s.ID,
		PaymentID:  s.PaymentID,
		Amount:     s.AmountTotal,
		Currency:   s.Currency,
		Metadata:   meta,
	}, nil
}

// SignatureVerifier confirms signature-style payments. The HMAC is checked
// before the provider is contacted.
type SignatureVerifier struct {
	secret []byte
	orders OrderLookup
}

// NewSignatureVerifier creates a SignatureVerifier using the provider key
// secret.
func NewSignatureVerifier(secret []byte, orders OrderLookup) *SignatureVerifier {
	return &SignatureVerifier{secret: secret, orders: orders}
}

func (*SignatureVerifier) Provider() Provider { return ProviderRazorpay }

// Verify checks the callback signature and loads the order it names.
func (v *SignatureVerifier) Verify(ctx context.Context, cb Callback) (*Confirmation, error) {
	c, ok := cb.(SignedCallback)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "razorpay verifier got %s callback", cb.Provider())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !ValidSignature(v.secret, c.OrderID, c.PaymentID, c.Signature) {
		return nil, ErrInvalidSignature
	}

	o, err := v.orders.Order(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}

	meta, err := DecodeMetadata(o.Notes)
	if err != nil {
		return nil, err
	}

	return &Confirmation{
		Provider:   ProviderRazorpay,
		PaymentRef: o.ID,
		PaymentID:  c.PaymentID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Metadata:   meta,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID".
func Sign(secret []byte, orderID, paymentID string) string {
	return hex.EncodeToString(mac(secret, orderID, paymentID))
}

// ValidSignature compares signature against the expected HMAC in constant
// time.
func ValidSignature(secret []byte, orderID, paymentID, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, orderID, paymentID))
}

func mac(secret []byte, orderID, paymentID string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(orderID + "|" + paymentID))
	return h.Sum(nil)
}
