package handler

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Reason codes carried in every error response.
const (
	CodeInvalidJSON         = "INVALID_JSON"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeEmptyCart           = "EMPTY_CART"
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodePaymentNotConfirmed = "PAYMENT_NOT_CONFIRMED"
	CodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	CodeCouponNotFound      = "COUPON_NOT_FOUND"
	CodeCouponExpired       = "COUPON_EXPIRED"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternal            = "INTERNAL_ERROR"
)

// validationError is a request that is well-formed JSON but not a valid
// request.
type validationError struct {
	Field  string
	Reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// jsonError is a body that could not be decoded.
type jsonError struct {
	Err error
}

func (e *jsonError) Error() string { return "invalid JSON: " + e.Err.Error() }

func (e *jsonError) Unwrap() error { return e.Err }

type apiError struct {
	status  int
	code    string
	message string
	// internal is set for failures whose detail must not reach clients in
	// production.
	internal bool
}

// classify maps a domain error to its response.
func classify(err error) apiError {
	var (
		validErr    *validationError
		jsonErr     *jsonError
		callbackErr *payment.InvalidCallbackError
		qtyErr      *pricing.InvalidQuantityError
		cartQtyErr  *cart.QuantityError
		overflowErr *pricing.AmountOverflowError
		missingErr  *payment.ProductNotFoundError
	)
	switch {
	case errors.As(err, &validErr):
		return apiError{status: http.StatusBadRequest, code: CodeValidationFailed, message: validErr.Error()}
	case errors.As(err, &jsonErr):
		return apiError{status: http.StatusBadRequest, code: CodeInvalidJSON, message: "request body is not valid JSON"}
	case errors.As(err, &callbackErr):
		return apiError{status: http.StatusBadRequest, code: CodeValidationFailed, message: callbackErr.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, code: CodeUnauthorized, message: "unauthorized"}
	case errors.Is(err, pricing.ErrEmptyCart):
		return apiError{status: http.StatusBadRequest, code: CodeEmptyCart, message: "cart is empty"}
	case errors.As(err, &qtyErr):
		return apiError{status: http.StatusBadRequest, code: CodeInvalidQuantity, message: qtyErr.Error()}
	case errors.As(err, &cartQtyErr):
		return apiError{status: http.StatusBadRequest, code: CodeInvalidQuantity, message: cartQtyErr.Error()}
	case errors.As(err, &overflowErr):
		return apiError{status: http.StatusBadRequest, code: CodeInvalidQuantity, message: overflowErr.Error()}
	case errors.As(err, &missingErr):
		return apiError{status: http.StatusUnprocessableEntity, code: CodeProductNotFound, message: missingErr.Error()}
	case errors.Is(err, product.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: CodeProductNotFound, message: "product not found"}
	case errors.Is(err, payment.ErrUnknownProvider),
		errors.Is(err, payment.ErrCartTooLarge),
		errors.Is(err, payment.ErrNothingToCharge):
		return apiError{status: http.StatusBadRequest, code: CodeValidationFailed, message: rootMessage(err)}
	case errors.Is(err, payment.ErrInvalidSignature):
		return apiError{status: http.StatusBadRequest, code: CodeInvalidSignature, message: "invalid signature"}
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		return apiError{status: http.StatusPaymentRequired, code: CodePaymentNotConfirmed, message: "payment not confirmed"}
	case errors.Is(err, payment.ErrUnknownPayment), errors.Is(err, payment.ErrMalformedMetadata):
		// The provider record is missing or was not created by this service.
		return apiError{status: http.StatusBadRequest, code: CodePaymentNotConfirmed, message: "payment could not be confirmed"}
	case payment.IsGatewayError(err):
		return apiError{status: http.StatusServiceUnavailable, code: CodeGatewayUnavailable, message: "payment provider unavailable, retry later"}
	case errors.Is(err, coupon.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: CodeCouponNotFound, message: "coupon not found"}
	case errors.Is(err, coupon.ErrExpired):
		return apiError{status: http.StatusNotFound, code: CodeCouponExpired, message: "coupon expired"}
	case errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: CodeNotFound, message: "order not found"}
	default:
		return apiError{status: http.StatusInternalServerError, code: CodeInternal, message: "internal error", internal: true}
	}
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// fail writes the response for err.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	lg := zctx.From(r.Context())
	if e.internal {
		lg.Error("Request failed", zap.Error(err))
		if !h.cfg.Production {
			e.message = err.Error()
		}
	} else {
		lg.Debug("Request rejected", zap.String("code", e.code), zap.Error(err))
	}
	if e.code == CodeGatewayUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(h.cfg.RetryAfter.Seconds()))))
	}
	h.writeError(w, r, e)
}

func (h *Handler) writeError(w http.ResponseWriter, _ *http.Request, e apiError) {
	writeJSON(w, e.status, func(enc *jx.Encoder) {
		enc.ObjStart()
		enc.FieldStart("success")
		enc.Bool(false)
		enc.FieldStart("code")
		enc.Str(e.code)
		enc.FieldStart("message")
		enc.Str(e.message)
		enc.ObjEnd()
	})
}
