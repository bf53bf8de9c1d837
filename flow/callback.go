package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/provider"
	"github.com/mnehpets/cookieauth/session"
)

// SignInCallback is invoked with the identity of each successful sign-in.
type SignInCallback func(ctx context.Context, info *session.UserInfo) error

// CallbackParams are the query parameters of a provider callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// DeniedError is an error response returned by the provider in the
// callback query.
type DeniedError struct {
	Code        string
	Description string
}

func (e *DeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// Callback completes a sign-in. State is checked against its cookie before
// the code verifier is read, and both before any provider call. On success
// the session and CSRF cookies are set and the browser is sent to the
// post-sign-in URI; any failure redirects to the error URI without a
// session cookie. The state and verifier cookies are cleared either way.
func (m *Manager) Callback(ctx context.Context, jar cookie.Jar, p provider.Provider, q CallbackParams) (Response, error) {
	log := m.log.With().Str("provider", p.ID()).Str("flow_id", uuid.NewString()).Logger()
	fail := func(step string, err error) (Response, error) {
		return m.resolve(log, step, err, redirect(m.opts.ErrorURI))
	}
	defer func() {
		jar.Delete(cookie.State)
		jar.Delete(cookie.CodeVerifier)
	}()

	// Start -> StateValidated
	state, ok := jar.Get(cookie.State)
	if !ok {
		return fail("state", autherr.Wrapf(autherr.ErrInvalidState, nil, "no state cookie"))
	}
	if q.State == "" || subtle.ConstantTimeCompare([]byte(state), []byte(q.State)) != 1 {
		return fail("state", autherr.Wrapf(autherr.ErrInvalidState, nil, "state mismatch"))
	}

	// StateValidated -> CodeVerifierFound
	verifier, err := m.openVerifier(jar, state)
	if err != nil {
		return fail("code_verifier", err)
	}

	if q.Error != "" {
		return fail("authorize", autherr.Wrapf(autherr.ErrInvalidTokenAcquisitionRequest,
			&DeniedError{Code: q.Error, Description: q.ErrorDescription}, "authorization denied"))
	}
	if q.Code == "" {
		return fail("authorize", autherr.Wrapf(autherr.ErrInvalidTokenAcquisitionRequest, nil, "missing code"))
	}

	pctx := ctx
	if m.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, m.opts.ProviderTimeout)
		defer cancel()
	}

	// CodeVerifierFound -> TokenAcquired
	accessToken, err := p.AccessToken(pctx, q.Code, verifier, q.State)
	if err == nil && accessToken == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		if !errors.Is(err, autherr.ErrInvalidTokenAcquisitionRequest) {
			err = autherr.Wrapf(autherr.ErrInvalidTokenAcquisitionRequest, err, "exchange code")
		}
		return fail("token", err)
	}

	// TokenAcquired -> UserInfoFetched
	info, err := p.UserInfo(pctx, accessToken)
	if err == nil && info == nil {
		err = autherr.Wrapf(autherr.ErrSchemaValidation, nil, "no user info")
	}
	if err != nil {
		if !errors.Is(err, autherr.ErrInvalidUserInfoAccessRequest) && !errors.Is(err, autherr.ErrSchemaValidation) {
			err = autherr.Wrapf(autherr.ErrInvalidUserInfoAccessRequest, err, "fetch user info")
		}
		return fail("userinfo", err)
	}

	// UserInfoFetched -> SessionIssued
	token, err := m.codec.Encode(*info, m.opts.SessionMaxAge)
	if err != nil {
		return fail("session", err)
	}
	csrfToken, err := m.guard.Generate()
	if err != nil {
		return fail("csrf", err)
	}
	if cb := m.opts.SignInCallback; cb != nil {
		if err := cb(ctx, info); err != nil {
			return Response{}, err
		}
	}
	jar.Set(cookie.JWT, token, m.opts.SessionMaxAge)
	jar.Set(cookie.CSRFToken, csrfToken, 0)

	log.Info().Str("user_id", info.UserID).Msg("signed in")
	return redirect(m.opts.PostSignInURI), nil
}

// openVerifier reads the sealed verifier cookie and checks that it belongs
// to state and has not expired.
func (m *Manager) openVerifier(jar cookie.Jar, state string) (string, error) {
	raw, ok := jar.Get(cookie.CodeVerifier)
	if !ok {
		return "", autherr.Wrapf(autherr.ErrCodeVerifierNotFound, nil, "no verifier cookie")
	}
	var vc verifierCookie
	if err := m.sealer.Open(cookie.CodeVerifier, raw, &vc); err != nil {
		return "", autherr.Wrapf(autherr.ErrCodeVerifierNotFound, err, "open verifier cookie")
	}
	if vc.Verifier == "" || subtle.ConstantTimeCompare([]byte(vc.State), []byte(state)) != 1 {
		return "", autherr.Wrapf(autherr.ErrCodeVerifierNotFound, nil, "verifier not issued for this state")
	}
	if !m.opts.Now().Before(vc.ExpiresAt) {
		return "", autherr.Wrapf(autherr.ErrCodeVerifierNotFound, nil, "verifier expired")
	}
	return vc.Verifier, nil
}
