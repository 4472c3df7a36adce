// Package handler serves the checkout HTTP API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Checkout opens payment sessions and confirms provider callbacks.
type Checkout interface {
	Begin(ctx context.Context, req payment.OpenRequest) (*payment.OpenResult, error)
	Confirm(ctx context.Context, cb payment.Callback) (*order.Result, error)
}

// Coupons reads the customer's coupon.
type Coupons interface {
	Active(ctx context.Context, userID string) (*coupon.Coupon, error)
	Validate(ctx context.Context, userID, code string) (*coupon.Coupon, error)
}

// Carts manages server-side carts.
type Carts interface {
	Lines(ctx context.Context, userID string) ([]cart.Line, error)
	View(ctx context.Context, userID string) (*cart.View, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// TokenVerifier resolves the customer from an access token.
type TokenVerifier interface {
	Verify(token string) (auth.User, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Production hides internal error detail from responses.
	Production bool
	// RetryAfter is advertised when a payment provider is unavailable.
	RetryAfter time.Duration
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Products product.Repository
	Orders   order.Repository
	Checkout Checkout
	Coupons  Coupons
	Carts    Carts
	Tokens   TokenVerifier
}

// Handler serves the API routes.
type Handler struct {
	cfg Config
	Deps
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{cfg: cfg, Deps: deps}
}

// Routes returns the API router. It is meant to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apiError{status: http.StatusNotFound, code: CodeNotFound, message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apiError{status: http.StatusMethodNotAllowed, code: CodeMethodNotAllowed, message: "method not allowed"})
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/recommendations", h.RecommendedProducts)
	r.Get("/products/{id}", h.GetProduct)

	// Payment callbacks are trusted through the provider, not the session.
	r.Post("/payments/checkout-success", h.CheckoutSuccess)
	r.Post("/payments/verify", h.VerifyPayment)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/payments/create-checkout-session", h.CreateCheckoutSession)
		r.Post("/payments/create-order", h.CreateOrder)

		r.Get("/coupons", h.ActiveCoupon)
		r.Post("/coupons/validate", h.ValidateCoupon)

		r.Get("/orders/{id}", h.GetOrder)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Put("/items/{productId}", h.SetCartQuantity)
			r.Delete("/items/{productId}", h.RemoveCartItem)
		})
	})
	return r
}
