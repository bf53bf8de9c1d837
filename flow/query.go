package flow

import (
	"net/http"

	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/session"
)

// SessionBody is the JSON body of a session query.
type SessionBody struct {
	JWT *session.Claims `json:"jwt"`
}

// CSRFBody is the JSON body of a CSRF token request.
type CSRFBody struct {
	CSRFToken string `json:"csrf_token"`
}

func unauthorized() Response {
	return Response{
		Status: http.StatusUnauthorized,
		Body:   SessionBody{},
		Header: http.Header{"Www-Authenticate": {"Bearer"}},
	}
}

// SessionQuery returns the decoded claims of the session cookie. A missing
// cookie gives 401. A cookie that fails to decode also gives 401 and is
// handled as a tampering failure.
func (m *Manager) SessionQuery(jar cookie.Jar) (Response, error) {
	token, ok := jar.Get(cookie.JWT)
	if !ok {
		return unauthorized(), nil
	}
	claims, err := m.codec.Decode(token)
	if err != nil {
		return m.resolve(m.log, "session_query", err, unauthorized())
	}
	return Response{Status: http.StatusOK, Body: SessionBody{JWT: claims}}, nil
}

// IssueCSRF sets a fresh CSRF token cookie and returns the token in the body.
func (m *Manager) IssueCSRF(jar cookie.Jar) (Response, error) {
	tok, err := m.guard.Generate()
	if err != nil {
		return m.resolve(m.log, "csrf", err, Response{Status: http.StatusInternalServerError})
	}
	jar.Set(cookie.CSRFToken, tok, 0)
	return Response{Status: http.StatusOK, Body: CSRFBody{CSRFToken: tok}}, nil
}
