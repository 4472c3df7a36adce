package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// ListProducts returns the catalog, optionally filtered by the category
// and featured query parameters.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	var featured *bool
	if v := q.Get("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, &validationError{Field: "featured", Reason: "must be a boolean"})
			return
		}
		featured = &b
	}

	products, err := h.Products.List(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list products"))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			if category != "" && p.Category != category {
				continue
			}
			if featured != nil && p.Featured != *featured {
				continue
			}
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// recommendationCount is the number of products returned by
// RecommendedProducts.
const recommendationCount = 3

// RecommendedProducts returns the newest products.
func (h *Handler) RecommendedProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.Newest(r.Context(), recommendationCount)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "recommend products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			err = errors.Wrap(err, "get product")
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}
