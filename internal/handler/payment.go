package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// CreateCheckoutSession opens a hosted Stripe checkout session.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	h.begin(w, r, payment.ProviderStripe)
}

// CreateOrder creates a Razorpay order for the checkout widget.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	h.begin(w, r, payment.ProviderRazorpay)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request, provider payment.Provider) {
	var req checkoutRequest
	if err := h.readJSON(w, r, func(d *jx.Decoder) error {
		var err error
		req, err = decodeCheckoutRequest(d)
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	user := userID(r)
	items := req.Items
	if len(items) == 0 && h.Carts != nil {
		lines, err := h.Carts.Lines(r.Context(), user)
		if err != nil {
			h.fail(w, r, errors.Wrap(err, "load cart"))
			return
		}
		for _, l := range lines {
			items = append(items, payment.CartItem{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	}

	res, err := h.Checkout.Begin(r.Context(), payment.OpenRequest{
		Provider:   provider,
		UserID:     user,
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(res.Session.ID)
		e.FieldStart("sessionId")
		e.Str(res.Session.ID)
		e.FieldStart("provider")
		e.Str(string(res.Session.Provider))
		e.FieldStart("amount")
		e.Int64(res.Session.Amount)
		e.FieldStart("totalAmount")
		e.Int64(res.Quote.Total)
		e.FieldStart("subtotal")
		e.Int64(res.Quote.Subtotal)
		e.FieldStart("discount")
		e.Int64(res.Quote.Discount)
		e.FieldStart("currency")
		e.Str(res.Session.Currency)
		if res.CouponCode != "" {
			e.FieldStart("couponCode")
			e.Str(res.CouponCode)
		}
		if res.Session.URL != "" {
			e.FieldStart("url")
			e.Str(res.Session.URL)
		}
		if res.Session.PublicKey != "" {
			e.FieldStart("key")
			e.Str(res.Session.PublicKey)
		}
		e.ObjEnd()
	})
}

// CheckoutSuccess confirms a Stripe checkout session.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	var cb payment.SessionCallback
	if err := h.readJSON(w, r, func(d *jx.Decoder) error {
		return decodeObj(d, func(d *jx.Decoder, key string) error {
			if key != "sessionId" {
				return d.Skip()
			}
			var err error
			cb.SessionID, err = optStr(d)
			return err
		})
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	h.confirm(w, r, cb)
}

// VerifyPayment confirms a signed Razorpay payment.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var cb payment.SignedCallback
	if err := h.readJSON(w, r, func(d *jx.Decoder) error {
		return decodeObj(d, func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "razorpay_order_id":
				cb.OrderID, err = optStr(d)
			case "razorpay_payment_id":
				cb.PaymentID, err = optStr(d)
			case "razorpay_signature":
				cb.Signature, err = optStr(d)
			default:
				err = d.Skip()
			}
			return err
		})
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	h.confirm(w, r, cb)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, cb payment.Callback) {
	res, err := h.Checkout.Confirm(r.Context(), cb)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !res.Duplicate {
		h.clearCart(r.Context(), res.Order.UserID)
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("orderId")
		e.Str(res.Order.ID)
		e.FieldStart("duplicate")
		e.Bool(res.Duplicate)
		e.FieldStart("totalAmount")
		e.Int64(res.Order.Total)
		e.FieldStart("currency")
		e.Str(res.Order.Currency)
		if res.Gift != nil {
			e.FieldStart("coupon")
			encodeCoupon(e, res.Gift)
		}
		e.ObjEnd()
	})
}

// clearCart empties the cart of a customer whose order was just created.
// The order stands even if this fails.
func (h *Handler) clearCart(ctx context.Context, userID string) {
	if h.Carts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.Carts.Clear(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Clear cart after order", zap.String("user_id", userID), zap.Error(err))
	}
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Int64(it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.Int64(o.Subtotal)
	e.FieldStart("discount")
	e.Int64(o.Discount)
	e.FieldStart("totalAmount")
	e.Int64(o.Total)
	e.FieldStart("currency")
	e.Str(o.Currency)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("provider")
	e.Str(string(o.Provider))
	e.FieldStart("paymentRef")
	e.Str(o.PaymentRef)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
