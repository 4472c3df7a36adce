package stripe

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/gateway"
)

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	get     *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{
		ID:          "cs_test_1",
		URL:         "https://checkout.stripe.com/c/pay/cs_test_1",
		AmountTotal: 11475,
		Currency:    stripe.CurrencyUSD,
	}, nil
}

func (f *fakeSessions) Get(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.get, nil
}

type fakeCoupons struct {
	params  []*stripe.CouponParams
	deleted []string
}

func (f *fakeCoupons) New(params *stripe.CouponParams) (*stripe.Coupon, error) {
	f.params = append(f.params, params)
	return &stripe.Coupon{ID: "co_1"}, nil
}

func (f *fakeCoupons) Del(id string, _ *stripe.CouponParams) (*stripe.Coupon, error) {
	f.deleted = append(f.deleted, id)
	return &stripe.Coupon{ID: id, Deleted: true}, nil
}

func newTestClient(sessions *fakeSessions, coupons *fakeCoupons) *Client {
	guard := gateway.NewGuard(payment.ProviderStripe, gateway.Config{}, Transient, zap.NewNop())
	return &Client{
		cfg:      Config{SuccessURL: "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}", CancelURL: "https://shop.example/cart"},
		guard:    guard,
		sessions: sessions,
		coupons:  coupons,
	}
}

func TestClient_CreateSession(t *testing.T) {
	sessions := &fakeSessions{}
	coupons := &fakeCoupons{}
	c := newTestClient(sessions, coupons)

	s, err := c.CreateSession(context.Background(), payment.SessionRequest{
		Amount:             11475,
		Currency:           "USD",
		DiscountPercentage: 10,
		Lines: []payment.LineItem{
			{ProductID: "1", Name: "Waffle", Image: "https://img/1.jpg", UnitPrice: 650, Quantity: 3},
			{ProductID: "7", Name: "Baklava", UnitPrice: 10799, Quantity: 1},
		},
		Metadata: map[string]string{"userId": "u1", "lineItems": "[]"},
	})
	require.NoError(t, err)
	assert.Equal(t, &payment.Session{
		Provider: payment.ProviderStripe,
		ID:       "cs_test_1",
		Amount:   11475,
		Currency: "usd",
		URL:      "https://checkout.stripe.com/c/pay/cs_test_1",
	}, s)

	p := sessions.created
	require.NotNil(t, p)
	assert.Equal(t, "payment", *p.Mode)
	assert.Equal(t, "u1", *p.ClientReferenceID)
	assert.Equal(t, map[string]string{"userId": "u1", "lineItems": "[]"}, p.Metadata)
	require.Len(t, p.LineItems, 2)
	assert.Equal(t, int64(650), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(3), *p.LineItems[0].Quantity)
	assert.Len(t, p.LineItems[0].PriceData.ProductData.Images, 1)
	assert.Empty(t, p.LineItems[1].PriceData.ProductData.Images)

	// 12749 - 11475
	require.Len(t, coupons.params, 1)
	assert.Equal(t, int64(1274), *coupons.params[0].AmountOff)
	assert.Equal(t, "once", *coupons.params[0].Duration)
	require.Len(t, p.Discounts, 1)
	assert.Equal(t, "co_1", *p.Discounts[0].Coupon)
}

func TestClient_CreateSessionFailureDeletesCoupon(t *testing.T) {
	sessions := &fakeSessions{err: &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "invalid line item"}}
	coupons := &fakeCoupons{}
	c := newTestClient(sessions, coupons)

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{
		Amount:             585,
		Currency:           "usd",
		DiscountPercentage: 10,
		Lines:              []payment.LineItem{{ProductID: "1", Name: "Waffle", UnitPrice: 650, Quantity: 1}},
	})
	require.Error(t, err)
	require.Len(t, coupons.params, 1)
	assert.Equal(t, []string{"co_1"}, coupons.deleted)
}

func TestClient_CreateSessionWithoutDiscount(t *testing.T) {
	sessions := &fakeSessions{}
	coupons := &fakeCoupons{}
	c := newTestClient(sessions, coupons)

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{
		Amount:   650,
		Currency: "usd",
		Lines:    []payment.LineItem{{ProductID: "1", Name: "Waffle", UnitPrice: 650, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Empty(t, coupons.params)
	assert.Empty(t, coupons.deleted)
	assert.Empty(t, sessions.created.Discounts)
}

func TestClient_Session(t *testing.T) {
	sessions := &fakeSessions{get: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   11475,
		Currency:      stripe.CurrencyUSD,
		Metadata:      map[string]string{"userId": "u1"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	c := newTestClient(sessions, &fakeCoupons{})

	s, err := c.Session(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, &payment.CheckoutSession{
		ID:          "cs_test_1",
		Paid:        true,
		AmountTotal: 11475,
		Currency:    "usd",
		PaymentID:   "pi_1",
		Metadata:    map[string]string{"userId": "u1"},
	}, s)

	sessions.get.PaymentStatus = stripe.CheckoutSessionPaymentStatusUnpaid
	s, err = c.Session(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.False(t, s.Paid)
}

func TestClient_SessionErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		c := newTestClient(&fakeSessions{err: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}}, &fakeCoupons{})
		_, err := c.Session(context.Background(), "cs_nope")
		require.ErrorIs(t, err, payment.ErrUnknownPayment)
		assert.False(t, payment.IsGatewayError(err))
	})

	t.Run("unavailable", func(t *testing.T) {
		c := newTestClient(&fakeSessions{err: &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}}, &fakeCoupons{})
		_, err := c.Session(context.Background(), "cs_1")
		require.True(t, payment.IsGatewayError(err))
	})
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, Transient(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.True(t, Transient(&stripe.Error{HTTPStatusCode: http.StatusBadGateway}))
	assert.False(t, Transient(&stripe.Error{HTTPStatusCode: http.StatusBadRequest}))
	assert.False(t, Transient(context.Canceled))
}
