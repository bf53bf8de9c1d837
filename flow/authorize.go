package flow

import (
	"time"

	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/pkce"
	"github.com/mnehpets/cookieauth/provider"
)

// verifierCookie is the sealed payload of the code verifier cookie. State
// binds it to the state cookie written alongside it.
type verifierCookie struct {
	Verifier  string    `cbor:"1,keyasint"`
	State     string    `cbor:"2,keyasint"`
	ExpiresAt time.Time `cbor:"3,keyasint"`
}

// Authorize starts a sign-in: it stores fresh security parameters in the
// state and code verifier cookies and redirects to the provider.
func (m *Manager) Authorize(jar cookie.Jar, p provider.Provider) (Response, error) {
	params, err := pkce.Generate()
	if err != nil {
		return Response{}, err
	}
	sealed, err := m.sealer.Seal(cookie.CodeVerifier, verifierCookie{
		Verifier:  params.CodeVerifier,
		State:     params.State,
		ExpiresAt: m.opts.Now().Add(cookie.SecurityParamsMaxAge),
	})
	if err != nil {
		return Response{}, err
	}
	jar.Set(cookie.State, params.State, cookie.SecurityParamsMaxAge)
	jar.Set(cookie.CodeVerifier, sealed, cookie.SecurityParamsMaxAge)

	m.log.Debug().Str("provider", p.ID()).Msg("authorize redirect")
	return redirect(p.AuthorizeURL(params.State, params.CodeChallenge, params.Method)), nil
}
