// Package stripe opens and reads Stripe Checkout sessions.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/gateway"
)

const couponCleanupTimeout = 5 * time.Second

var (
	_ payment.Gateway       = (*Client)(nil)
	_ payment.SessionLookup = (*Client)(nil)
)

// Config holds the Stripe settings.
type Config struct {
	SecretKey string
	// SuccessURL may contain {CHECKOUT_SESSION_ID}, which Stripe replaces
	// with the session id.
	SuccessURL string
	CancelURL  string
}

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type couponAPI interface {
	New(params *stripe.CouponParams) (*stripe.Coupon, error)
	Del(id string, params *stripe.CouponParams) (*stripe.Coupon, error)
}

// Client is the Stripe payment gateway.
type Client struct {
	cfg      Config
	guard    *gateway.Guard
	sessions sessionAPI
	coupons  couponAPI
}

// New creates a Client using the Stripe API.
func New(cfg Config, guard *gateway.Guard) *Client {
	api := client.New(cfg.SecretKey, nil)
	return &Client{cfg: cfg, guard: guard, sessions: api.CheckoutSessions, coupons: api.Coupons}
}

func (*Client) Provider() payment.Provider { return payment.ProviderStripe }

func (*Client) Limits() payment.MetadataLimits { return payment.StripeLimits }

// CreateSession opens a hosted checkout session. A discount is applied as
// a single-use amount-off coupon so that Stripe charges exactly
// req.Amount.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	currency := strings.ToLower(req.Currency)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.Metadata["userId"]),
	}

	var subtotal int64
	for _, l := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.Name),
		}
		if l.Image != "" {
			product.Images = []*string{stripe.String(l.Image)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(l.UnitPrice),
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
		subtotal += l.UnitPrice * int64(l.Quantity)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	discount := subtotal - req.Amount
	return gateway.Call(ctx, c.guard, "create session", func(ctx context.Context) (*payment.Session, error) {
		params.Context = ctx
		if discount > 0 {
			cp, err := c.coupons.New(&stripe.CouponParams{
				Params:         stripe.Params{Context: ctx},
				AmountOff:      stripe.Int64(discount),
				Currency:       stripe.String(currency),
				Duration:       stripe.String(string(stripe.CouponDurationOnce)),
				MaxRedemptions: stripe.Int64(1),
				Name:           stripe.String(fmt.Sprintf("%d%% off", req.DiscountPercentage)),
			})
			if err != nil {
				return nil, errors.Wrap(err, "create coupon")
			}
			params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(cp.ID)}}
		}

		s, err := c.sessions.New(params)
		if err != nil {
			if len(params.Discounts) > 0 {
				c.dropCoupon(ctx, *params.Discounts[0].Coupon)
			}
			return nil, err
		}
		return &payment.Session{
			Provider: payment.ProviderStripe,
			ID:       s.ID,
			Amount:   s.AmountTotal,
			Currency: string(s.Currency),
			URL:      s.URL,
		}, nil
	})
}

// dropCoupon deletes a coupon whose session was never created. Failure is
// only logged: an unredeemed single-use coupon discounts nothing.
func (c *Client) dropCoupon(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), couponCleanupTimeout)
	defer cancel()
	if _, err := c.coupons.Del(id, &stripe.CouponParams{Params: stripe.Params{Context: ctx}}); err != nil {
		zctx.From(ctx).Warn("Delete orphaned coupon",
			zap.String("coupon_id", id),
			zap.Error(err),
		)
	}
}

// Session retrieves a checkout session.
func (c *Client) Session(ctx context.Context, id string) (*payment.CheckoutSession, error) {
	return gateway.Call(ctx, c.guard, "get session", func(ctx context.Context) (*payment.CheckoutSession, error) {
		s, err := c.sessions.Get(id, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			var se *stripe.Error
			if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
				return nil, errors.Wrapf(payment.ErrUnknownPayment, "session %q", id)
			}
			return nil, err
		}

		out := &payment.CheckoutSession{
			ID:          s.ID,
			Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			AmountTotal: s.AmountTotal,
			Currency:    string(s.Currency),
			Metadata:    s.Metadata,
		}
		if s.PaymentIntent != nil {
			out.PaymentID = s.PaymentIntent.ID
		}
		return out, nil
	})
}

// Transient reports whether err means Stripe is unavailable.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, payment.ErrUnknownPayment) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == 0 || se.HTTPStatusCode == 429 || se.HTTPStatusCode >= 500
	}
	return true
}
