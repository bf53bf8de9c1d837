// Package cookie is the narrow cookie abstraction used by the sign-in flows.
//
// Flows address cookies by logical name (State, CodeVerifier, JWT,
// CSRFToken). A Jar maps those names to transport cookies and applies a
// uniform security policy: a fixed name prefix, SameSite=Lax, Path=/,
// Secure when the request arrived over TLS, and HttpOnly for every cookie
// except the CSRF token, which client script must be able to read.
package cookie

import (
	"net/http"
	"strings"
	"time"
)

// DefaultPrefix namespaces every auth cookie.
const DefaultPrefix = "fastauth."

// Logical cookie names.
const (
	State        = "state"
	CodeVerifier = "pkce.code_verifier"
	JWT          = "jwt"
	CSRFToken    = "csrf-token"
)

// SecurityParamsMaxAge is the lifetime of the State and CodeVerifier cookies.
const SecurityParamsMaxAge = 15 * time.Minute

// All lists every cookie the flows manage.
var All = []string{State, CodeVerifier, JWT, CSRFToken}

// HTTPOnly reports whether the named cookie is hidden from client script.
func HTTPOnly(name string) bool {
	return name != CSRFToken
}

// Jar gets, sets and deletes cookies by logical name.
type Jar interface {
	Get(name string) (string, bool)
	// Set stores value. maxAge 0 makes a session cookie.
	Set(name, value string, maxAge time.Duration)
	Delete(name string)
}

// Policy holds the attributes shared by every cookie a jar writes.
type Policy struct {
	prefix            string
	domain            string
	path              string
	sameSite          http.SameSite
	trustProxyHeaders bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(p *Policy) {
		p.prefix = prefix
	}
}

// WithDomain sets the cookie Domain attribute.
func WithDomain(domain string) Option {
	return func(p *Policy) {
		p.domain = domain
	}
}

// WithPath overrides the default path of "/".
func WithPath(path string) Option {
	return func(p *Policy) {
		p.path = path
	}
}

// WithTrustProxyHeaders makes X-Forwarded-Proto: https count as TLS.
func WithTrustProxyHeaders(trust bool) Option {
	return func(p *Policy) {
		p.trustProxyHeaders = trust
	}
}

// NewPolicy returns a Policy with the defaults applied.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		prefix:   DefaultPrefix,
		path:     "/",
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.path == "" {
		p.path = "/"
	}
	return p
}

// Name returns the transport name for a logical cookie name.
func (p *Policy) Name(name string) string {
	return p.prefix + name
}

// Secure reports whether r arrived over TLS.
func (p *Policy) Secure(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return p.trustProxyHeaders && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Jar returns a Jar bound to one request/response pair.
func (p *Policy) Jar(w http.ResponseWriter, r *http.Request) *HTTPJar {
	return &HTTPJar{
		policy:  p,
		w:       w,
		r:       r,
		secure:  p.Secure(r),
		written: map[string]*string{},
	}
}

// HTTPJar is a Jar over net/http.
//
// Values written during the request are visible to later Get calls, and
// writing the same cookie twice replaces the earlier Set-Cookie header.
type HTTPJar struct {
	policy  *Policy
	w       http.ResponseWriter
	r       *http.Request
	secure  bool
	written map[string]*string
}

// Get returns the cookie value, preferring values written in this request.
func (j *HTTPJar) Get(name string) (string, bool) {
	if v, ok := j.written[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	c, err := j.r.Cookie(j.policy.Name(name))
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set writes the cookie with the policy attributes.
func (j *HTTPJar) Set(name, value string, maxAge time.Duration) {
	c := j.cookie(name)
	c.Value = value
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
		c.Expires = time.Now().Add(maxAge)
	}
	j.write(name, c)
	j.written[name] = &value
}

// Delete expires the cookie with the same attributes it was set with.
func (j *HTTPJar) Delete(name string) {
	c := j.cookie(name)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	j.write(name, c)
	j.written[name] = nil
}

func (j *HTTPJar) cookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     j.policy.Name(name),
		Path:     j.policy.path,
		Domain:   j.policy.domain,
		Secure:   j.secure,
		HttpOnly: HTTPOnly(name),
		SameSite: j.policy.sameSite,
	}
}

func (j *HTTPJar) write(name string, c *http.Cookie) {
	h := j.w.Header()
	prefix := j.policy.Name(name) + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	if v := c.String(); v != "" {
		h.Add("Set-Cookie", v)
	}
}

// MapJar is an in-memory Jar for callers that manage transport themselves.
type MapJar map[string]string

func (m MapJar) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

func (m MapJar) Set(name, value string, _ time.Duration) {
	m[name] = value
}

func (m MapJar) Delete(name string) {
	delete(m, name)
}

var (
	_ Jar = (*HTTPJar)(nil)
	_ Jar = MapJar(nil)
)
