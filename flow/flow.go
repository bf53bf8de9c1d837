// Package flow implements the sign-in state machines: authorize, callback,
// signout and session query.
//
// Flows read and write cookies through a cookie.Jar and return a Response
// describing the redirect or JSON body to send; they never touch the
// transport. Errors follow a two-mode policy. In production mode a failure
// is logged and converted to its fallback Response, and the returned error
// is nil. In debug mode the same fallback Response is returned together
// with the error so the host can surface it.
package flow

import (
	"errors"
	"net/http"
	"time"

	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/csrf"
	"github.com/mnehpets/cookieauth/secret"
	"github.com/mnehpets/cookieauth/session"
	"github.com/rs/zerolog"
)

// Defaults applied by New to zero Options fields.
const (
	DefaultPostSignInURI   = "/auth/in"
	DefaultPostSignOutURI  = "/auth/out"
	DefaultErrorURI        = "/auth/error"
	DefaultProviderTimeout = 30 * time.Second
)

// Options configures a Manager. It is built once at startup.
type Options struct {
	// Debug surfaces flow errors to the caller in addition to the fallback
	// response.
	Debug bool
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger

	SessionMaxAge  time.Duration
	PostSignInURI  string
	PostSignOutURI string
	ErrorURI       string

	// SignInCallback runs after a successful callback. Its error is
	// returned as-is in both modes.
	SignInCallback SignInCallback

	// ProviderTimeout bounds the token and user-info calls of one callback.
	// Negative disables the bound.
	ProviderTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager runs the flows with one key ring and configuration.
type Manager struct {
	opts   Options
	log    zerolog.Logger
	codec  *session.Codec
	guard  *csrf.Guard
	sealer *cookie.Sealer
}

// New returns a Manager. The ring must hold at least one key.
func New(ring *secret.Ring, opts Options) (*Manager, error) {
	if ring.Len() == 0 {
		return nil, secret.ErrEmptyRing
	}
	if opts.SessionMaxAge == 0 {
		opts.SessionMaxAge = session.DefaultMaxAge
	}
	if opts.SessionMaxAge < 0 {
		return nil, errors.New("flow: negative session max age")
	}
	if opts.PostSignInURI == "" {
		opts.PostSignInURI = DefaultPostSignInURI
	}
	if opts.PostSignOutURI == "" {
		opts.PostSignOutURI = DefaultPostSignOutURI
	}
	if opts.ErrorURI == "" {
		opts.ErrorURI = DefaultErrorURI
	}
	if opts.ProviderTimeout == 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	sealer, err := cookie.NewSealer(ring)
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:   opts,
		log:    log,
		codec:  session.NewCodec(ring, session.WithClock(opts.Now)),
		guard:  csrf.NewGuard(ring),
		sealer: sealer,
	}, nil
}

// Debug reports whether errors are surfaced.
func (m *Manager) Debug() bool {
	return m.opts.Debug
}

// PostSignInURI is where a successful callback redirects.
func (m *Manager) PostSignInURI() string { return m.opts.PostSignInURI }

// PostSignOutURI is where signout redirects.
func (m *Manager) PostSignOutURI() string { return m.opts.PostSignOutURI }

// ErrorURI is where failed flows redirect.
func (m *Manager) ErrorURI() string { return m.opts.ErrorURI }

// Codec returns the session codec.
func (m *Manager) Codec() *session.Codec {
	return m.codec
}

// Guard returns the CSRF guard.
func (m *Manager) Guard() *csrf.Guard {
	return m.guard
}

// Response is what a flow asks the host to send.
type Response struct {
	Status int
	// Location is set for redirects.
	Location string
	// Body is encoded as JSON when non-nil.
	Body   any
	Header http.Header
}

// IsRedirect reports whether r is a redirect.
func (r Response) IsRedirect() bool {
	return r.Location != "" && r.Status >= 300 && r.Status < 400
}

func redirect(location string) Response {
	return Response{Status: http.StatusFound, Location: location}
}

// resolve applies the error policy to a flow failure.
func (m *Manager) resolve(log zerolog.Logger, step string, err error, fallback Response) (Response, error) {
	ev := log.Warn()
	if autherr.Category(err) == autherr.KindUnknown {
		ev = log.Error()
	}
	ev = ev.Err(err).Str("step", step).Stringer("category", autherr.Category(err))
	var re *autherr.ResponseError
	if errors.As(err, &re) {
		ev = ev.Int("upstream_status", re.StatusCode)
		if m.opts.Debug && len(re.Body) > 0 {
			ev = ev.Bytes("upstream_body", re.Body)
		}
	}
	ev.Msg("auth flow failed")
	if m.opts.Debug {
		return fallback, err
	}
	return fallback, nil
}
