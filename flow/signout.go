package flow

import (
	"net/http"

	"github.com/mnehpets/cookieauth/cookie"
)

// Signout clears every auth cookie and redirects to the post-sign-out URI.
// An existing session cookie is decoded first so that a forged or expired
// one is logged; in debug mode that instead answers 400 pointing at the
// error URI. Cookies are cleared regardless.
func (m *Manager) Signout(jar cookie.Jar) (Response, error) {
	var tampered error
	if token, ok := jar.Get(cookie.JWT); ok {
		if _, err := m.codec.Decode(token); err != nil {
			tampered = err
		}
	}

	for _, name := range cookie.All {
		jar.Delete(name)
	}

	if tampered != nil {
		fallback := redirect(m.opts.PostSignOutURI)
		if m.opts.Debug {
			fallback = Response{Status: http.StatusBadRequest, Location: m.opts.ErrorURI}
		}
		return m.resolve(m.log, "signout", tampered, fallback)
	}
	return redirect(m.opts.PostSignOutURI), nil
}
