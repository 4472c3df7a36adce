package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already written; a failed write means the client left.
	_, _ = w.Write(e.Bytes())
}

// readJSON decodes the request body with fn. Syntax errors are reported as
// jsonError, validation errors returned by fn are kept as they are.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := fn(jx.Decode(body, 1024)); err != nil {
		var vErr *validationError
		if errors.As(err, &vErr) {
			return vErr
		}
		return &jsonError{Err: err}
	}
	return nil
}

// decodeObj decodes a JSON object. A null body is treated as an empty
// object.
func decodeObj(d *jx.Decoder, fn func(d *jx.Decoder, key string) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(fn)
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	s, err := d.Str()
	return strings.TrimSpace(s), err
}

// decodeProductID accepts string and numeric ids.
func decodeProductID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", &validationError{Field: "id", Reason: "must be a string or number"}
	}
}

// checkoutRequest is the body of the session and order creation routes.
type checkoutRequest struct {
	Items      []payment.CartItem
	CouponCode string
}

func decodeCheckoutRequest(d *jx.Decoder) (checkoutRequest, error) {
	var req checkoutRequest
	err := decodeObj(d, func(d *jx.Decoder, key string) error {
		switch key {
		case "products", "lineItems":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeCartItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "couponCode":
			var err error
			req.CouponCode, err = optStr(d)
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

// decodeCartItem reads one requested line. Only the product and quantity
// are taken; names and prices sent by the client are ignored.
func decodeCartItem(d *jx.Decoder) (payment.CartItem, error) {
	var it payment.CartItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id", "_id", "productId":
			id, err := decodeProductID(d)
			if err != nil {
				return err
			}
			if it.ProductID == "" {
				it.ProductID = id
			}
			return nil
		case "quantity":
			var err error
			it.Quantity, err = d.Int()
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return it, err
	}
	if it.ProductID == "" {
		return it, &validationError{Field: "id", Reason: "product id is required"}
	}
	return it, nil
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	e.Float64(p.Price.InexactFloat64())
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("image")
	e.Str(p.Image)
	e.FieldStart("isFeatured")
	e.Bool(p.Featured)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountPercentage")
	e.Int(c.DiscountPercentage)
	e.FieldStart("expiresAt")
	e.Str(c.ExpiresAt.UTC().Format(time.RFC3339))
	e.FieldStart("isActive")
	e.Bool(c.Active)
	e.ObjEnd()
}
