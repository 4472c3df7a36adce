// Package order turns verified payments into orders.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Result is the outcome of Materialize.
type Result struct {
	Order *Order
	// Duplicate is set when the payment was already materialized. No side
	// effects were applied by this call.
	Duplicate bool
	// Gift is the loyalty coupon issued with this order, if any.
	Gift *coupon.Coupon
}

// Materializer writes the order for a confirmed payment along with its
// coupon side effects and events, exactly once per payment reference.
type Materializer struct {
	store  Store
	policy coupon.Policy
	now    func() time.Time
}

// NewMaterializer creates a Materializer issuing gifts according to policy.
func NewMaterializer(store Store, policy coupon.Policy) *Materializer {
	return &Materializer{store: store, policy: policy, now: time.Now}
}

// Materialize records c as an order. Calling it again for the same provider
// and payment reference returns the original order.
func (m *Materializer) Materialize(ctx context.Context, c *payment.Confirmation) (*Result, error) {
	o, err := m.build(c)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = nil

		inserted, err := tx.InsertOrder(ctx, o)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		if !inserted {
			existing, err := tx.FindByPaymentRef(ctx, o.Provider, o.PaymentRef)
			if err != nil {
				return errors.Wrap(err, "load existing order")
			}
			res = &Result{Order: existing, Duplicate: true}
			return nil
		}

		if o.CouponCode != "" {
			if err := tx.DeactivateCoupon(ctx, o.UserID, o.CouponCode); err != nil {
				return errors.Wrap(err, "deactivate coupon")
			}
		}

		var gift *coupon.Coupon
		if m.policy.Qualifies(o.Total) {
			g, err := coupon.NewGift(o.UserID, o.CreatedAt, m.policy)
			if err != nil {
				return errors.Wrap(err, "new gift coupon")
			}
			if err := tx.ReplaceActiveCoupon(ctx, g); err != nil {
				return errors.Wrap(err, "replace coupon")
			}
			gift = &g
		}

		if err := tx.Enqueue(ctx, OrderCreated(o)); err != nil {
			return errors.Wrap(err, "enqueue order event")
		}
		if gift != nil {
			if err := tx.Enqueue(ctx, CouponIssued(*gift)); err != nil {
				return errors.Wrap(err, "enqueue coupon event")
			}
		}

		res = &Result{Order: o, Gift: gift}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Materializer) build(c *payment.Confirmation) (*Order, error) {
	if c == nil || c.PaymentRef == "" || c.Metadata.UserID == "" || len(c.Metadata.Items) == 0 {
		return nil, errors.Wrap(payment.ErrMalformedMetadata, "incomplete confirmation")
	}

	o := &Order{
		ID:         uuid.New().String(),
		UserID:     c.Metadata.UserID,
		Items:      make([]Item, 0, len(c.Metadata.Items)),
		Total:      c.Amount,
		Currency:   c.Currency,
		CouponCode: c.Metadata.CouponCode,
		Provider:   c.Provider,
		PaymentRef: c.PaymentRef,
		PaymentID:  c.PaymentID,
		CreatedAt:  m.now().UTC(),
	}
	for _, it := range c.Metadata.Items {
		o.Items = append(o.Items, Item(it))
		o.Subtotal += it.UnitPrice * int64(it.Quantity)
	}
	if d := o.Subtotal - o.Total; d > 0 {
		o.Discount = d
	}
	return o, nil
}
