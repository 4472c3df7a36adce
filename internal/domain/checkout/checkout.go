// Package checkout ties session opening, payment verification and order
// materialization together.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Opener opens provider sessions.
type Opener interface {
	Open(ctx context.Context, req payment.OpenRequest) (*payment.OpenResult, error)
}

// Materializer records confirmed payments as orders.
type Materializer interface {
	Materialize(ctx context.Context, c *payment.Confirmation) (*order.Result, error)
}

// Service runs the checkout flow.
type Service struct {
	opener       Opener
	materializer Materializer
	verifiers    map[payment.Provider]payment.Verifier
	group        singleflight.Group

	sessions       metric.Int64Counter
	orders         metric.Int64Counter
	duplicates     metric.Int64Counter
	verifyFailures metric.Int64Counter
}

// NewService creates a Service. Callbacks for providers without a verifier
// are rejected.
func NewService(
	opener Opener,
	materializer Materializer,
	mp metric.MeterProvider,
	verifiers ...payment.Verifier,
) (*Service, error) {
	s := &Service{
		opener:       opener,
		materializer: materializer,
		verifiers:    make(map[payment.Provider]payment.Verifier, len(verifiers)),
	}
	for _, v := range verifiers {
		s.verifiers[v.Provider()] = v
	}

	meter := mp.Meter("kart-checkout/checkout")
	var err error
	if s.sessions, err = meter.Int64Counter("checkout.sessions.opened",
		metric.WithDescription("Payment sessions opened"),
	); err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}
	if s.orders, err = meter.Int64Counter("checkout.orders.materialized",
		metric.WithDescription("Orders created from verified payments"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if s.duplicates, err = meter.Int64Counter("checkout.orders.duplicate",
		metric.WithDescription("Verifications of already materialized payments"),
	); err != nil {
		return nil, errors.Wrap(err, "duplicates counter")
	}
	if s.verifyFailures, err = meter.Int64Counter("checkout.verify.failures",
		metric.WithDescription("Rejected payment callbacks"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	return s, nil
}

// Begin opens a provider session for the cart.
func (s *Service) Begin(ctx context.Context, req payment.OpenRequest) (*payment.OpenResult, error) {
	res, err := s.opener.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	s.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(req.Provider))))

	zctx.From(ctx).Info("Payment session opened",
		zap.String("provider", string(req.Provider)),
		zap.String("session_id", res.Session.ID),
		zap.Int64("total", res.Quote.Total),
		zap.Bool("discounted", res.Quote.Discount > 0),
	)
	return res, nil
}

// Confirm verifies the callback and materializes the order. Concurrent
// confirmations of the same payment share one verification.
func (s *Service) Confirm(ctx context.Context, cb payment.Callback) (*order.Result, error) {
	if err := cb.Validate(); err != nil {
		return nil, err
	}
	v, ok := s.verifiers[cb.Provider()]
	if !ok {
		return nil, errors.Wrapf(payment.ErrUnknownProvider, "%q", cb.Provider())
	}

	key := string(cb.Provider()) + ":" + cb.Ref()
	// The order is recorded even if this caller goes away.
	shared := context.WithoutCancel(ctx)
	out, err, _ := s.group.Do(key, func() (any, error) {
		return s.confirm(shared, v, cb)
	})
	if err != nil {
		return nil, err
	}
	return out.(*order.Result), nil
}

func (s *Service) confirm(ctx context.Context, v payment.Verifier, cb payment.Callback) (*order.Result, error) {
	lg := zctx.From(ctx).With(
		zap.String("provider", string(cb.Provider())),
		zap.String("payment_ref", cb.Ref()),
	)
	attrs := metric.WithAttributes(attribute.String("provider", string(cb.Provider())))

	c, err := v.Verify(ctx, cb)
	if err != nil {
		if !payment.IsGatewayError(err) {
			s.verifyFailures.Add(ctx, 1, attrs)
			lg.Warn("Payment callback rejected", zap.Error(err))
		}
		return nil, err
	}

	res, err := s.materializer.Materialize(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "materialize order")
	}

	if res.Duplicate {
		s.duplicates.Add(ctx, 1, attrs)
		lg.Info("Payment already materialized", zap.String("order_id", res.Order.ID))
		return res, nil
	}

	s.orders.Add(ctx, 1, attrs)
	fields := []zap.Field{
		zap.String("order_id", res.Order.ID),
		zap.Int64("total", res.Order.Total),
	}
	if res.Gift != nil {
		fields = append(fields, zap.String("gift_coupon", res.Gift.Code))
	}
	lg.Info("Order materialized", fields...)
	return res, nil
}
