package order

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/outbox"
)

// Event types. They are carried in the "type" field of every payload.
const (
	EventOrderCreated = "order.created"
	EventCouponIssued = "coupon.issued"
)

// Topic is the broker topic order events are relayed to.
const Topic = "kart.orders"

// OrderCreated builds the outbox message announcing o.
func OrderCreated(o *Order) outbox.Message {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(EventOrderCreated)
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("provider")
	e.Str(string(o.Provider))
	e.FieldStart("paymentRef")
	e.Str(o.PaymentRef)
	e.FieldStart("subtotal")
	e.Int64(o.Subtotal)
	e.FieldStart("discount")
	e.Int64(o.Discount)
	e.FieldStart("total")
	e.Int64(o.Total)
	e.FieldStart("currency")
	e.Str(o.Currency)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Int64(it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.Format(time.RFC3339))
	e.ObjEnd()

	return outbox.NewMessage(Topic, o.UserID, e.Bytes())
}

// CouponIssued builds the outbox message announcing a loyalty coupon.
func CouponIssued(c coupon.Coupon) outbox.Message {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(EventCouponIssued)
	e.FieldStart("couponId")
	e.Str(c.ID)
	e.FieldStart("userId")
	e.Str(c.UserID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountPercentage")
	e.Int(c.DiscountPercentage)
	e.FieldStart("expiresAt")
	e.Str(c.ExpiresAt.Format(time.RFC3339))
	e.ObjEnd()

	return outbox.NewMessage(Topic, c.UserID, e.Bytes())
}
