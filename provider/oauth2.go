package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/session"
	"golang.org/x/oauth2"
)

// maxBodyBytes bounds provider responses read into memory.
const maxBodyBytes = 1 << 20

// Config describes a plain OAuth2 provider.
type Config struct {
	ID           string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	// Extra holds provider-specific authorize parameters.
	Extra map[string]string
	// Mapper converts the user-info JSON object to a UserInfo.
	Mapper Mapper
	// HTTPClient is used for token and user-info requests when set.
	HTTPClient *http.Client
}

// OAuth2 is a Provider over golang.org/x/oauth2.
type OAuth2 struct {
	id          string
	conf        *oauth2.Config
	userInfoURL string
	extra       map[string]string
	mapper      Mapper
	client      *http.Client
}

// NewOAuth2 validates c and returns a provider.
func NewOAuth2(c Config) (*OAuth2, error) {
	switch {
	case c.ID == "":
		return nil, &ConfigError{ID: c.ID, Reason: "missing id"}
	case c.ClientID == "":
		return nil, &ConfigError{ID: c.ID, Reason: "missing client_id"}
	case c.RedirectURL == "":
		return nil, &ConfigError{ID: c.ID, Reason: "missing redirect_uri"}
	case c.AuthURL == "" || c.TokenURL == "" || c.UserInfoURL == "":
		return nil, &ConfigError{ID: c.ID, Reason: "missing endpoint url"}
	}
	for _, u := range []string{c.RedirectURL, c.AuthURL, c.TokenURL, c.UserInfoURL} {
		if _, err := url.Parse(u); err != nil {
			return nil, &ConfigError{ID: c.ID, Reason: err.Error()}
		}
	}
	mapper := c.Mapper
	if mapper == nil {
		mapper = DefaultMapper
	}
	return &OAuth2{
		id: c.ID,
		conf: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: c.UserInfoURL,
		extra:       c.Extra,
		mapper:      mapper,
		client:      c.HTTPClient,
	}, nil
}

func (p *OAuth2) ID() string {
	return p.id
}

// AuthorizeURL lists the standard parameters in a fixed order followed by
// the extra parameters sorted by key.
func (p *OAuth2) AuthorizeURL(state, codeChallenge, method string) string {
	return buildAuthorizeURL(p.conf.Endpoint.AuthURL, [][2]string{
		{"response_type", "code"},
		{"client_id", p.conf.ClientID},
		{"redirect_uri", p.conf.RedirectURL},
		{"state", state},
		{"code_challenge", codeChallenge},
		{"code_challenge_method", method},
	}, p.extraParams())
}

func (p *OAuth2) extraParams() map[string]string {
	extra := make(map[string]string, len(p.extra)+1)
	if len(p.conf.Scopes) > 0 {
		extra["scope"] = strings.Join(p.conf.Scopes, " ")
	}
	for k, v := range p.extra {
		extra[k] = v
	}
	return extra
}

var queryUnescaper = strings.NewReplacer("%3A", ":", "%2F", "/", "%40", "@", "+", "%20")

// escapeQueryValue escapes v for a query string, leaving ':', '/' and '@'
// readable since RFC 3986 allows them there.
func escapeQueryValue(v string) string {
	return queryUnescaper.Replace(url.QueryEscape(v))
}

func buildAuthorizeURL(base string, fixed [][2]string, extra map[string]string) string {
	var b strings.Builder
	b.WriteString(base)
	sep := byte('?')
	if strings.Contains(base, "?") {
		sep = '&'
	}
	write := func(k, v string) {
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(escapeQueryValue(v))
	}
	for _, kv := range fixed {
		write(kv[0], kv[1])
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k, extra[k])
	}
	return b.String()
}

func (p *OAuth2) context(ctx context.Context) context.Context {
	if p.client != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	return ctx
}

// AccessToken exchanges code at the token endpoint.
func (p *OAuth2) AccessToken(ctx context.Context, code, codeVerifier, state string) (string, error) {
	tok, err := p.conf.Exchange(p.context(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
		oauth2.SetAuthURLParam("state", state),
	)
	if err != nil {
		return "", tokenError(err)
	}
	if tok.AccessToken == "" {
		return "", autherr.Wrapf(autherr.ErrInvalidTokenAcquisitionRequest, nil, "empty access_token")
	}
	return tok.AccessToken, nil
}

func tokenError(err error) error {
	re := &autherr.ResponseError{Err: autherr.ErrInvalidTokenAcquisitionRequest, Cause: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		re.Body = rerr.Body
		if rerr.Response != nil {
			re.StatusCode = rerr.Response.StatusCode
		}
	}
	return re
}

// UserInfo fetches and maps the user-info document.
func (p *OAuth2) UserInfo(ctx context.Context, accessToken string) (*session.UserInfo, error) {
	raw, err := fetchJSON(p.context(ctx), p.userInfoURL, accessToken)
	if err != nil {
		return nil, err
	}
	info, err := p.mapper(raw)
	if err != nil {
		return nil, autherr.Wrapf(autherr.ErrSchemaValidation, err, "provider %s", p.id)
	}
	return info, nil
}

// fetchJSON GETs target with a bearer token and decodes a JSON object.
func fetchJSON(ctx context.Context, target, accessToken string) (map[string]any, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &autherr.ResponseError{Err: autherr.ErrInvalidUserInfoAccessRequest, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, &autherr.ResponseError{Err: autherr.ErrInvalidUserInfoAccessRequest, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &autherr.ResponseError{Err: autherr.ErrInvalidUserInfoAccessRequest, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &autherr.ResponseError{Err: autherr.ErrInvalidUserInfoAccessRequest, StatusCode: resp.StatusCode, Body: body}
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		if err == nil {
			err = errors.New("not a JSON object")
		}
		return nil, &autherr.ResponseError{Err: autherr.ErrSchemaValidation, StatusCode: resp.StatusCode, Body: body, Cause: err}
	}
	return raw, nil
}
