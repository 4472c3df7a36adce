package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// AccessTokenCookie is the cookie carrying the access token.
const AccessTokenCookie = "accessToken"

// authenticate resolves the customer from the access token cookie or the
// Authorization header. Every failure produces the same response.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := h.Tokens.Verify(accessToken(r))
		if err != nil {
			h.fail(w, r, auth.ErrUnauthorized)
			return
		}
		ctx := auth.WithUser(r.Context(), u)
		ctx = zctx.With(ctx, zap.String("user_id", u.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// userID returns the authenticated customer. Routes using it are behind
// authenticate.
func userID(r *http.Request) string {
	u, _ := auth.FromContext(r.Context())
	return u.ID
}
