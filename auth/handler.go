// Package auth mounts the sign-in flows on an http.Handler.
package auth

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/endpoint"
	"github.com/mnehpets/cookieauth/flow"
	"github.com/mnehpets/cookieauth/provider"
	"github.com/rs/zerolog"
)

// DefaultBasePath is where the routes are mounted unless WithBasePath is used.
const DefaultBasePath = "/auth"

// Paths are the route segments below the base path.
type Paths struct {
	SignIn    string
	Callback  string
	SignOut   string
	Session   string
	CSRFToken string
}

// DefaultPaths are the route segments used when none are configured.
var DefaultPaths = Paths{
	SignIn:    "signin",
	Callback:  "callback",
	SignOut:   "signout",
	Session:   "jwt",
	CSRFToken: "csrf-token",
}

// AuthHandler serves the authorize, callback, signout, session and CSRF
// routes.
type AuthHandler struct {
	mux      *http.ServeMux
	flows    *flow.Manager
	registry *provider.Registry
	cookies  *cookie.Policy
	log      zerolog.Logger

	basePath string
	paths    Paths

	// processors run ahead of every route.
	processors []endpoint.Processor
}

// Option configures the AuthHandler.
type Option func(*AuthHandler)

// WithBasePath sets the mount point of the routes.
func WithBasePath(p string) Option {
	return func(h *AuthHandler) {
		h.basePath = p
	}
}

// WithPaths overrides route segments. Empty fields keep their defaults.
func WithPaths(p Paths) Option {
	return func(h *AuthHandler) {
		if p.SignIn != "" {
			h.paths.SignIn = p.SignIn
		}
		if p.Callback != "" {
			h.paths.Callback = p.Callback
		}
		if p.SignOut != "" {
			h.paths.SignOut = p.SignOut
		}
		if p.Session != "" {
			h.paths.Session = p.Session
		}
		if p.CSRFToken != "" {
			h.paths.CSRFToken = p.CSRFToken
		}
	}
}

// WithProcessors adds middleware processors to the auth endpoints.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *AuthHandler) {
		h.processors = append(h.processors, p...)
	}
}

// WithCookiePolicy sets the cookie attributes. The default is
// cookie.NewPolicy().
func WithCookiePolicy(p *cookie.Policy) Option {
	return func(h *AuthHandler) {
		h.cookies = p
	}
}

// WithLogger sets the logger attached to each request context.
func WithLogger(l zerolog.Logger) Option {
	return func(h *AuthHandler) {
		h.log = l
	}
}

// NewHandler creates an AuthHandler running flows for the providers in
// registry.
func NewHandler(flows *flow.Manager, registry *provider.Registry, opts ...Option) (*AuthHandler, error) {
	if flows == nil || registry == nil {
		return nil, errors.New("auth: flows and registry are required")
	}
	h := &AuthHandler{
		mux:      http.NewServeMux(),
		flows:    flows,
		registry: registry,
		log:      zerolog.Nop(),
		basePath: DefaultBasePath,
		paths:    DefaultPaths,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cookies == nil {
		h.cookies = cookie.NewPolicy()
	}
	if !strings.HasPrefix(h.basePath, "/") {
		h.basePath = "/" + h.basePath
	}

	procs := append([]endpoint.Processor{endpoint.ProcessorFunc(h.attachLogger)}, h.processors...)

	h.mux.HandleFunc("GET "+h.route(h.paths.SignIn, "{provider}"), endpoint.HandleFunc(h.signIn, procs...))
	h.mux.HandleFunc("GET "+h.route(h.paths.Callback, "{provider}"), endpoint.HandleFunc(h.callback, procs...))
	h.mux.HandleFunc("GET "+h.route(h.paths.SignOut), endpoint.HandleFunc(h.signOut, procs...))
	h.mux.HandleFunc("GET "+h.route(h.paths.Session), endpoint.HandleFunc(h.session, procs...))
	h.mux.HandleFunc("GET "+h.route(h.paths.CSRFToken), endpoint.HandleFunc(h.csrfToken, procs...))

	return h, nil
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// BasePath returns the normalized mount point.
func (h *AuthHandler) BasePath() string {
	return h.basePath
}

func (h *AuthHandler) route(segments ...string) string {
	return path.Join(append([]string{h.basePath}, segments...)...)
}

func (h *AuthHandler) attachLogger(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if zerolog.Ctx(r.Context()).GetLevel() == zerolog.Disabled {
		r = r.WithContext(h.log.WithContext(r.Context()))
	}
	return next(w, r)
}

type signInParams struct {
	ProviderID string `path:"provider"`
}

// callbackParams are unbounded so that every malformed callback reaches the
// flow, which clears the transaction cookies and redirects to the error URI.
type callbackParams struct {
	ProviderID       string `path:"provider"`
	Code             string `query:"code" maxLength:"0"`
	State            string `query:"state" maxLength:"0"`
	Error            string `query:"error" maxLength:"0"`
	ErrorDescription string `query:"error_description" maxLength:"0"`
}

func (h *AuthHandler) provider(id string) (provider.Provider, error) {
	p, ok := h.registry.Get(id)
	if !ok {
		return nil, endpoint.Error(http.StatusNotFound, "provider not found", nil)
	}
	return p, nil
}

func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request, params signInParams) (endpoint.Renderer, error) {
	p, err := h.provider(params.ProviderID)
	if err != nil {
		return nil, err
	}
	return h.render(h.flows.Authorize(h.cookies.Jar(w, r), p))
}

func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request, params callbackParams) (endpoint.Renderer, error) {
	p, err := h.provider(params.ProviderID)
	if err != nil {
		return nil, err
	}
	return h.render(h.flows.Callback(r.Context(), h.cookies.Jar(w, r), p, flow.CallbackParams{
		Code:             params.Code,
		State:            params.State,
		Error:            params.Error,
		ErrorDescription: params.ErrorDescription,
	}))
}

func (h *AuthHandler) signOut(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	resp, err := h.flows.Signout(h.cookies.Jar(w, r))
	if err != nil && resp.Location != "" {
		// Debug-mode tampering: the flow's 400 to the error URI is the answer.
		return responseRenderer(resp), nil
	}
	return h.render(resp, err)
}

func (h *AuthHandler) session(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return h.render(h.flows.SessionQuery(h.cookies.Jar(w, r)))
}

func (h *AuthHandler) csrfToken(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return h.render(h.flows.IssueCSRF(h.cookies.Jar(w, r)))
}

// render turns a flow result into a Renderer. A non-nil err (debug mode, or
// a sign-in callback rejection) becomes an EndpointError.
func (h *AuthHandler) render(resp flow.Response, err error) (endpoint.Renderer, error) {
	if err != nil {
		kind := autherr.Category(err)
		return nil, &endpoint.EndpointError{
			Status:  StatusFor(kind),
			Message: err.Error(),
			Code:    kind.String(),
			Cause:   err,
		}
	}
	return responseRenderer(resp), nil
}

// StatusFor maps an error category to the HTTP status used in debug mode.
func StatusFor(k autherr.Kind) int {
	switch k {
	case autherr.KindSecurity:
		return http.StatusBadRequest
	case autherr.KindProvider:
		return http.StatusBadGateway
	case autherr.KindToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func responseRenderer(resp flow.Response) endpoint.Renderer {
	switch {
	case resp.IsRedirect():
		return &endpoint.RedirectRenderer{URL: resp.Location, Status: resp.Status}
	case resp.Body != nil:
		return &endpoint.JSONRenderer{Status: resp.Status, Value: resp.Body, Header: resp.Header}
	default:
		header := resp.Header.Clone()
		if resp.Location != "" {
			if header == nil {
				header = http.Header{}
			}
			header.Set("Location", resp.Location)
		}
		return &endpoint.NoContentRenderer{Status: resp.Status, Header: header}
	}
}
