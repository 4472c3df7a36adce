package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// GetCart returns the priced cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, r)
}

// SetCartQuantity sets the quantity of a line. Zero removes it.
func (h *Handler) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	quantity := -1
	if err := h.readJSON(w, r, func(d *jx.Decoder) error {
		return decodeObj(d, func(d *jx.Decoder, key string) error {
			if key != "quantity" {
				return d.Skip()
			}
			var err error
			quantity, err = d.Int()
			return err
		})
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if quantity < 0 {
		h.fail(w, r, &validationError{Field: "quantity", Reason: "must be a non-negative integer"})
		return
	}

	if err := h.Carts.SetQuantity(r.Context(), userID(r), chi.URLParam(r, "productId"), quantity); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCart(w, r)
}

// RemoveCartItem removes a line. Removing a missing line succeeds.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Remove(r.Context(), userID(r), chi.URLParam(r, "productId")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCart(w, r)
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCart(w, r)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.Carts.View(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for _, l := range v.Lines {
			e.ObjStart()
			e.FieldStart("productId")
			e.Str(l.Product.ID)
			e.FieldStart("name")
			e.Str(l.Product.Name)
			e.FieldStart("image")
			e.Str(l.Product.Image)
			e.FieldStart("price")
			e.Float64(l.Product.Price.InexactFloat64())
			e.FieldStart("unitPrice")
			e.Int64(l.Product.UnitPrice())
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			e.FieldStart("amount")
			e.Int64(l.Amount)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("subtotal")
		e.Int64(v.Subtotal)
		e.ObjEnd()
	})
}
