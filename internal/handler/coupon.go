package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// ActiveCoupon returns the customer's active coupon or null.
func (h *Handler) ActiveCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coupons.Active(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		if c == nil {
			e.Null()
			return
		}
		encodeCoupon(e, c)
	})
}

// ValidateCoupon checks a coupon code of the customer.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	if err := h.readJSON(w, r, func(d *jx.Decoder) error {
		return decodeObj(d, func(d *jx.Decoder, key string) error {
			if key != "code" {
				return d.Skip()
			}
			var err error
			code, err = optStr(d)
			return err
		})
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if code == "" {
		h.fail(w, r, &validationError{Field: "code", Reason: "is required"})
		return
	}

	c, err := h.Coupons.Validate(r.Context(), userID(r), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(true)
		e.FieldStart("code")
		e.Str(c.Code)
		e.FieldStart("discountPercentage")
		e.Int(c.DiscountPercentage)
		e.ObjEnd()
	})
}
