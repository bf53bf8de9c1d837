// Package middleware provides endpoint processors for applications that sit
// behind the auth routes: session lookup, CSRF checking and response headers.
package middleware

import (
	"context"
	"net/http"

	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/endpoint"
	"github.com/mnehpets/cookieauth/session"
	"github.com/rs/zerolog"
)

type claimsKey struct{}

// ClaimsFromContext returns the session claims stored by SessionProcessor.
func ClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return c, ok && c != nil
}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// SessionProcessor decodes the session cookie and stores its claims in the
// request context. Requests without a valid session pass through without
// claims unless the processor was made with Required.
type SessionProcessor struct {
	codec    *session.Codec
	cookies  *cookie.Policy
	required bool
}

// NewSessionProcessor returns a SessionProcessor. A nil policy means
// cookie.NewPolicy().
func NewSessionProcessor(codec *session.Codec, cookies *cookie.Policy) *SessionProcessor {
	if cookies == nil {
		cookies = cookie.NewPolicy()
	}
	return &SessionProcessor{codec: codec, cookies: cookies}
}

// Required returns a copy that rejects requests without a valid session
// with 401.
func (p *SessionProcessor) Required() *SessionProcessor {
	cp := *p
	cp.required = true
	return &cp
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	var claims *session.Claims
	if token, ok := p.cookies.Jar(w, r).Get(cookie.JWT); ok {
		c, err := p.codec.Decode(token)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("rejected session cookie")
		} else {
			claims = c
		}
	}

	if claims == nil {
		if p.required {
			endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
				w.Header().Set("WWW-Authenticate", "Bearer")
			})
			return endpoint.Error(http.StatusUnauthorized, "authentication required", nil)
		}
		return next(w, r)
	}
	return next(w, r.WithContext(WithClaims(r.Context(), claims)))
}
