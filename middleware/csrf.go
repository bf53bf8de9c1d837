package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/csrf"
	"github.com/mnehpets/cookieauth/endpoint"
	"github.com/rs/zerolog"
)

const (
	// DefaultCSRFHeader carries the token on API requests.
	DefaultCSRFHeader = "X-CSRF-Token"
	// DefaultCSRFField carries the token on form posts.
	DefaultCSRFField = "csrf_token"
)

// CSRFProcessor enforces double-submit CSRF protection on state-changing
// methods. The submitted token must equal the CSRF cookie and carry a valid
// signature. On rejection a fresh cookie is issued with the 403; on success
// the token is rotated.
type CSRFProcessor struct {
	guard   *csrf.Guard
	cookies *cookie.Policy
	header  string
	field   string
}

// CSRFOption configures a CSRFProcessor.
type CSRFOption func(*CSRFProcessor)

// WithCSRFHeader overrides DefaultCSRFHeader.
func WithCSRFHeader(name string) CSRFOption {
	return func(p *CSRFProcessor) {
		p.header = name
	}
}

// WithCSRFField overrides DefaultCSRFField.
func WithCSRFField(name string) CSRFOption {
	return func(p *CSRFProcessor) {
		p.field = name
	}
}

// NewCSRFProcessor returns a CSRFProcessor. A nil policy means
// cookie.NewPolicy().
func NewCSRFProcessor(guard *csrf.Guard, cookies *cookie.Policy, opts ...CSRFOption) *CSRFProcessor {
	if cookies == nil {
		cookies = cookie.NewPolicy()
	}
	p := &CSRFProcessor{
		guard:   guard,
		cookies: cookies,
		header:  DefaultCSRFHeader,
		field:   DefaultCSRFField,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Process implements endpoint.Processor.
func (p *CSRFProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if safeMethod(r.Method) {
		return next(w, r)
	}

	// Whatever the outcome, the response carries a fresh token.
	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.reissue(w, r)
	})

	stored, ok := p.cookies.Jar(w, r).Get(cookie.CSRFToken)
	submitted := r.Header.Get(p.header)
	if submitted == "" {
		submitted = r.PostFormValue(p.field)
	}
	if !ok || submitted == "" ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 ||
		!p.guard.Validate(stored) {
		zerolog.Ctx(r.Context()).Warn().
			Bool("cookie", ok).
			Bool("submitted", submitted != "").
			Str("path", r.URL.Path).
			Msg("csrf check failed")
		return endpoint.Error(http.StatusForbidden, "invalid csrf token", nil)
	}
	return next(w, r)
}

func (p *CSRFProcessor) reissue(w http.ResponseWriter, r *http.Request) {
	tok, err := p.guard.Generate()
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("issue csrf token")
		return
	}
	p.cookies.Jar(w, r).Set(cookie.CSRFToken, tok, 0)
}
