package payment

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

type stubCatalog struct {
	products map[string]product.Product
	err      error
}

func (s *stubCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubCoupons struct {
	coupons map[string]*coupon.Coupon
	err     error
}

func (s *stubCoupons) Validate(_ context.Context, userID, code string) (*coupon.Coupon, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok || c.UserID != userID {
		return nil, coupon.ErrNotFound
	}
	if !c.Active {
		return nil, coupon.ErrExpired
	}
	return c, nil
}

type stubGateway struct {
	provider Provider
	limits   MetadataLimits
	err      error
	requests []SessionRequest
}

func (g *stubGateway) Provider() Provider     { return g.provider }
func (g *stubGateway) Limits() MetadataLimits { return g.limits }

func (g *stubGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &Session{Provider: g.provider, ID: "sess_1", Amount: req.Amount, Currency: req.Currency, URL: "https://pay.example/sess_1"}, nil
}

func testCatalog() *stubCatalog {
	return &stubCatalog{products: map[string]product.Product{
		"1": {ID: "1", Name: "Waffle with Berries", Price: decimal.RequireFromString("6.50")},
		"2": {ID: "2", Name: "Vanilla Bean Crème Brûlée", Price: decimal.RequireFromString("7.00")},
		"7": {ID: "7", Name: "Pistachio Baklava", Price: decimal.RequireFromString("107.99")},
		"9": {ID: "9", Name: "Giveaway", Price: decimal.Zero},
	}}
}

func TestBroker_Open(t *testing.T) {
	stripe := &stubGateway{provider: ProviderStripe, limits: StripeLimits}
	coupons := &stubCoupons{coupons: map[string]*coupon.Coupon{
		"GIFTAAAAAA": {Code: "GIFTAAAAAA", UserID: "u1", DiscountPercentage: 10, ExpiresAt: time.Now().Add(time.Hour), Active: true},
	}}
	b := NewBroker("usd", testCatalog(), coupons, stripe)

	opened, err := b.Open(context.Background(), OpenRequest{
		Provider: ProviderStripe,
		UserID:   "u1",
		Items: []CartItem{
			{ProductID: "1", Quantity: 2},
			{ProductID: "7", Quantity: 1},
			{ProductID: "1", Quantity: 1},
		},
		CouponCode: "giftaaaaaa",
	})
	require.NoError(t, err)

	// 3×650 + 10799 = 12749, 10% off floors 1274.9 to 1274.
	assert.Equal(t, pricing.Quote{Subtotal: 12749, Discount: 1274, Total: 11475, Percentage: 10}, opened.Quote)
	assert.Equal(t, "GIFTAAAAAA", opened.CouponCode)
	assert.Equal(t, "sess_1", opened.Session.ID)

	require.Len(t, stripe.requests, 1)
	req := stripe.requests[0]
	assert.Equal(t, int64(11475), req.Amount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, 10, req.DiscountPercentage)
	require.Len(t, req.Lines, 2)
	assert.Equal(t, LineItem{ProductID: "1", Name: "Waffle with Berries", UnitPrice: 650, Quantity: 3}, req.Lines[0])

	meta, err := DecodeMetadata(req.Metadata)
	require.NoError(t, err)
	assert.Equal(t, Metadata{
		UserID:     "u1",
		CouponCode: "GIFTAAAAAA",
		Items: []Item{
			{ProductID: "1", Quantity: 3, UnitPrice: 650},
			{ProductID: "7", Quantity: 1, UnitPrice: 10799},
		},
	}, meta)
}

func TestBroker_OpenUnusableCoupon(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"unknown", "NOPE"},
		{"expired", "GIFTOLD000"},
		{"other user", "GIFTBBBBBB"},
	}
	coupons := &stubCoupons{coupons: map[string]*coupon.Coupon{
		"GIFTOLD000": {Code: "GIFTOLD000", UserID: "u1", DiscountPercentage: 10},
		"GIFTBBBBBB": {Code: "GIFTBBBBBB", UserID: "u2", DiscountPercentage: 10, Active: true},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &stubGateway{provider: ProviderRazorpay, limits: RazorpayLimits}
			b := NewBroker("usd", testCatalog(), coupons, gw)

			opened, err := b.Open(context.Background(), OpenRequest{
				Provider:   ProviderRazorpay,
				UserID:     "u1",
				Items:      []CartItem{{ProductID: "2", Quantity: 1}},
				CouponCode: tt.code,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(700), opened.Quote.Total)
			assert.Empty(t, opened.CouponCode)
			assert.NotContains(t, gw.requests[0].Metadata, "couponCode")
		})
	}
}

func TestBroker_OpenMaxQuantity(t *testing.T) {
	gw := &stubGateway{provider: ProviderRazorpay, limits: RazorpayLimits}
	b := NewBroker("usd", testCatalog(), &stubCoupons{}, gw)

	opened, err := b.Open(context.Background(), OpenRequest{
		Provider: ProviderRazorpay,
		UserID:   "u1",
		Items: []CartItem{
			{ProductID: "7", Quantity: pricing.MaxQuantity - 1},
			{ProductID: "7", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10799*pricing.MaxQuantity), opened.Quote.Total)
	assert.Equal(t, opened.Quote.Total, gw.requests[0].Amount)
}

func TestBroker_OpenErrors(t *testing.T) {
	gatewayDown := errors.New("dial tcp: connection refused")

	tests := []struct {
		name    string
		req     OpenRequest
		catalog *stubCatalog
		coupons *stubCoupons
		gwErr   error
		check   func(t *testing.T, err error)
	}{
		{
			name:  "unknown provider",
			req:   OpenRequest{Provider: "paypal", UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 1}}},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrUnknownProvider) },
		},
		{
			name:  "empty cart",
			req:   OpenRequest{Provider: ProviderStripe, UserID: "u1"},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, pricing.ErrEmptyCart) },
		},
		{
			name: "zero quantity",
			req:  OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 0}}},
			check: func(t *testing.T, err error) {
				var qErr *pricing.InvalidQuantityError
				require.ErrorAs(t, err, &qErr)
				assert.Equal(t, "1", qErr.ProductID)
			},
		},
		{
			name: "quantity above limit",
			req:  OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "7", Quantity: 1708190024419813}}},
			check: func(t *testing.T, err error) {
				var qErr *pricing.InvalidQuantityError
				require.ErrorAs(t, err, &qErr)
				assert.Equal(t, "7", qErr.ProductID)
			},
		},
		{
			name: "merged quantity above limit",
			req: OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{
				{ProductID: "1", Quantity: pricing.MaxQuantity},
				{ProductID: "2", Quantity: 1},
				{ProductID: "1", Quantity: 1},
			}},
			check: func(t *testing.T, err error) {
				var qErr *pricing.InvalidQuantityError
				require.ErrorAs(t, err, &qErr)
				assert.Equal(t, "1", qErr.ProductID)
				assert.Equal(t, pricing.MaxQuantity+1, qErr.Quantity)
			},
		},
		{
			name: "unknown product",
			req:  OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 1}, {ProductID: "404", Quantity: 1}}},
			check: func(t *testing.T, err error) {
				var pErr *ProductNotFoundError
				require.ErrorAs(t, err, &pErr)
				assert.Equal(t, "404", pErr.ProductID)
			},
		},
		{
			name:  "nothing to charge",
			req:   OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "9", Quantity: 2}}},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrNothingToCharge) },
		},
		{
			name:    "catalog failure",
			req:     OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 1}}},
			catalog: &stubCatalog{err: errors.New("db down")},
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.False(t, IsGatewayError(err))
			},
		},
		{
			name:    "coupon store failure",
			req:     OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 1}}, CouponCode: "GIFTAAAAAA"},
			coupons: &stubCoupons{err: errors.New("db down")},
			check:   func(t *testing.T, err error) { require.Error(t, err) },
		},
		{
			name:  "gateway failure",
			req:   OpenRequest{Provider: ProviderStripe, UserID: "u1", Items: []CartItem{{ProductID: "1", Quantity: 1}}},
			gwErr: gatewayDown,
			check: func(t *testing.T, err error) {
				require.True(t, IsGatewayError(err))
				require.ErrorIs(t, err, gatewayDown)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := tt.catalog
			if catalog == nil {
				catalog = testCatalog()
			}
			coupons := tt.coupons
			if coupons == nil {
				coupons = &stubCoupons{}
			}
			gw := &stubGateway{provider: ProviderStripe, limits: StripeLimits, err: tt.gwErr}

			opened, err := NewBroker("usd", catalog, coupons, gw).Open(context.Background(), tt.req)
			assert.Nil(t, opened)
			tt.check(t, err)
		})
	}
}
