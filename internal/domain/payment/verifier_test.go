package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	sessions map[string]*CheckoutSession
	err      error
}

func (s *stubSessions) Session(_ context.Context, id string) (*CheckoutSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	cs, ok := s.sessions[id]
	if !ok {
		return nil, ErrUnknownPayment
	}
	return cs, nil
}

type stubOrders struct {
	orders map[string]*ProviderOrder
	calls  int
}

func (s *stubOrders) Order(_ context.Context, id string) (*ProviderOrder, error) {
	s.calls++
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrUnknownPayment
	}
	return o, nil
}

var testMeta = map[string]string{
	"userId":     "u1",
	"couponCode": "GIFTAAAAAA",
	"lineItems":  `[{"id":"1","quantity":2,"price":6500}]`,
}

func TestStatusVerifier(t *testing.T) {
	sessions := &stubSessions{sessions: map[string]*CheckoutSession{
		"cs_paid":   {ID: "cs_paid", Paid: true, AmountTotal: 11700, Currency: "usd", PaymentID: "pi_1", Metadata: testMeta},
		"cs_unpaid": {ID: "cs_unpaid", AmountTotal: 11700, Currency: "usd", Metadata: testMeta},
		"cs_foreign": {ID: "cs_foreign", Paid: true, AmountTotal: 500, Currency: "usd", Metadata: map[string]string{
			"source": "another-app",
		}},
	}}
	v := NewStatusVerifier(sessions)

	t.Run("paid", func(t *testing.T) {
		c, err := v.Verify(context.Background(), SessionCallback{SessionID: "cs_paid"})
		require.NoError(t, err)
		assert.Equal(t, &Confirmation{
			Provider:   ProviderStripe,
			PaymentRef: "cs_paid",
			PaymentID:  "pi_1",
			Amount:     11700,
			Currency:   "usd",
			Metadata: Metadata{
				UserID:     "u1",
				CouponCode: "GIFTAAAAAA",
				Items:      []Item{{ProductID: "1", Quantity: 2, UnitPrice: 6500}},
			},
		}, c)
	})

	tests := []struct {
		name    string
		cb      Callback
		wantErr error
	}{
		{"unpaid", SessionCallback{SessionID: "cs_unpaid"}, ErrPaymentNotConfirmed},
		{"unknown session", SessionCallback{SessionID: "cs_nope"}, ErrUnknownPayment},
		{"foreign metadata", SessionCallback{SessionID: "cs_foreign"}, ErrMalformedMetadata},
		{"wrong callback", SignedCallback{OrderID: "o", PaymentID: "p", Signature: "s"}, ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.Verify(context.Background(), tt.cb)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c)
		})
	}

	t.Run("missing session id", func(t *testing.T) {
		_, err := v.Verify(context.Background(), SessionCallback{})
		var cErr *InvalidCallbackError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "sessionId", cErr.Field)
	})

	t.Run("provider unreachable", func(t *testing.T) {
		down := &GatewayError{Provider: ProviderStripe, Op: "get session", Err: errors.New("timeout")}
		_, err := NewStatusVerifier(&stubSessions{err: down}).Verify(context.Background(), SessionCallback{SessionID: "cs_paid"})
		assert.True(t, IsGatewayError(err))
	})
}

func TestSignatureVerifier(t *testing.T) {
	secret := []byte("rzp_secret")
	orders := &stubOrders{orders: map[string]*ProviderOrder{
		"order_1": {ID: "order_1", Amount: 21420, Currency: "usd", Status: "paid", Notes: testMeta},
	}}
	v := NewSignatureVerifier(secret, orders)

	t.Run("valid", func(t *testing.T) {
		c, err := v.Verify(context.Background(), SignedCallback{
			OrderID:   "order_1",
			PaymentID: "pay_1",
			Signature: Sign(secret, "order_1", "pay_1"),
		})
		require.NoError(t, err)
		assert.Equal(t, ProviderRazorpay, c.Provider)
		assert.Equal(t, "order_1", c.PaymentRef)
		assert.Equal(t, "pay_1", c.PaymentID)
		assert.Equal(t, int64(21420), c.Amount)
		assert.Equal(t, "u1", c.Metadata.UserID)
	})

	t.Run("bad signature never reaches provider", func(t *testing.T) {
		orders.calls = 0
		for _, sig := range []string{
			Sign([]byte("other"), "order_1", "pay_1"),
			Sign(secret, "order_1", "pay_2"),
			"zz-not-hex",
		} {
			_, err := v.Verify(context.Background(), SignedCallback{OrderID: "order_1", PaymentID: "pay_1", Signature: sig})
			require.ErrorIs(t, err, ErrInvalidSignature)
		}
		assert.Zero(t, orders.calls)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := v.Verify(context.Background(), SignedCallback{OrderID: "order_1", PaymentID: "pay_1"})
		var cErr *InvalidCallbackError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "razorpay_signature", cErr.Field)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := v.Verify(context.Background(), SignedCallback{
			OrderID:   "order_2",
			PaymentID: "pay_1",
			Signature: Sign(secret, "order_2", "pay_1"),
		})
		require.ErrorIs(t, err, ErrUnknownPayment)
	})
}

func TestValidSignature(t *testing.T) {
	secret := []byte("s3cr3t")
	sig := Sign(secret, "order_A", "pay_B")
	assert.Len(t, sig, 64)
	assert.True(t, ValidSignature(secret, "order_A", "pay_B", sig))
	assert.False(t, ValidSignature(secret, "order_A", "pay_C", sig))
	assert.False(t, ValidSignature(nil, "order_A", "pay_B", Sign(nil, "order_A", "pay_B")))
}
