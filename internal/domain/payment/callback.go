package payment

import "fmt"

// Callback is what the buyer's browser reports after paying. It is one of
// SessionCallback or SignedCallback.
type Callback interface {
	Provider() Provider
	// Ref is the provider session or order id.
	Ref() string
	Validate() error
}

// InvalidCallbackError reports a missing or malformed callback field.
type InvalidCallbackError struct {
	Field string
}

func (e *InvalidCallbackError) Error() string {
	return fmt.Sprintf("invalid callback: %s is required", e.Field)
}

// SessionCallback is returned by status-check providers.
type SessionCallback struct {
	SessionID string
}

func (SessionCallback) Provider() Provider { return ProviderStripe }

func (c SessionCallback) Ref() string { return c.SessionID }

func (c SessionCallback) Validate() error {
	if c.SessionID == "" {
		return &InvalidCallbackError{Field: "sessionId"}
	}
	return nil
}

// SignedCallback is returned by signature providers.
type SignedCallback struct {
	OrderID   string
	PaymentID string
	Signature string
}

func (SignedCallback) Provider() Provider { return ProviderRazorpay }

func (c SignedCallback) Ref() string { return c.OrderID }

func (c SignedCallback) Validate() error {
	switch {
	case c.OrderID == "":
		return &InvalidCallbackError{Field: "razorpay_order_id"}
	case c.PaymentID == "":
		return &InvalidCallbackError{Field: "razorpay_payment_id"}
	case c.Signature == "":
		return &InvalidCallbackError{Field: "razorpay_signature"}
	}
	return nil
}
