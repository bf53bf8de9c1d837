package middleware

import (
	"net/http"
	"strconv"

	"github.com/mnehpets/cookieauth/cookie"
)

// SecurityHeadersProcessor sets response headers for the auth routes.
// Responses are never cached.
type SecurityHeadersProcessor struct {
	// HSTSMaxAge is sent on secure requests. Zero disables HSTS.
	HSTSMaxAge     int
	ReferrerPolicy string
	FrameOptions   string
	CSP            string
	// Secure decides whether a request arrived over TLS.
	Secure func(*http.Request) bool
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// WithHSTS sets the HSTS max-age in seconds.
func WithHSTS(maxAge int) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTSMaxAge = maxAge
	}
}

// WithReferrerPolicy sets the Referrer-Policy header. Empty disables it.
func WithReferrerPolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ReferrerPolicy = policy
	}
}

// WithCSP sets the Content-Security-Policy header. Empty disables it.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.CSP = policy
	}
}

// NewSecurityHeadersProcessor returns a processor with API defaults. TLS is
// detected with the cookie policy so HSTS agrees with the Secure attribute.
func NewSecurityHeadersProcessor(cookies *cookie.Policy, opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	if cookies == nil {
		cookies = cookie.NewPolicy()
	}
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:     31536000,
		ReferrerPolicy: "no-referrer",
		FrameOptions:   "DENY",
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		Secure:         cookies.Secure,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if p.HSTSMaxAge > 0 && p.Secure != nil && p.Secure(r) {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.CSP != "" {
		h.Set("Content-Security-Policy", p.CSP)
	}
	return next(w, r)
}
