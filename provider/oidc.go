package provider

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/session"
	"golang.org/x/oauth2"
)

// OIDC is an OpenID Connect provider configured by discovery. Authorization
// and code exchange are plain OAuth2; user info comes from the discovered
// userinfo endpoint.
type OIDC struct {
	*OAuth2
	provider *oidc.Provider
}

// NewOIDC queries issuer's discovery document and returns a provider.
// Scopes default to openid, profile and email.
func NewOIDC(ctx context.Context, id, issuer string, c Credentials) (*OIDC, error) {
	base := ctx
	if c.HTTPClient != nil {
		base = oidc.ClientContext(ctx, c.HTTPClient)
	}
	prov, err := oidc.NewProvider(base, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider %q: %w", issuer, err)
	}
	userInfoURL := prov.UserInfoEndpoint()
	if userInfoURL == "" {
		return nil, &ConfigError{ID: id, Reason: "issuer has no userinfo_endpoint"}
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	ep := prov.Endpoint()
	o, err := NewOAuth2(Config{
		ID:           id,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		AuthURL:      ep.AuthURL,
		TokenURL:     ep.TokenURL,
		UserInfoURL:  userInfoURL,
		Scopes:       scopes,
		Extra:        c.Extra,
		HTTPClient:   c.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &OIDC{OAuth2: o, provider: prov}, nil
}

// UserInfo calls the discovered userinfo endpoint.
func (p *OIDC) UserInfo(ctx context.Context, accessToken string) (*session.UserInfo, error) {
	ui, err := p.provider.UserInfo(p.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, &autherr.ResponseError{Err: autherr.ErrInvalidUserInfoAccessRequest, Cause: err}
	}
	var raw map[string]any
	if err := ui.Claims(&raw); err != nil {
		return nil, autherr.Wrapf(autherr.ErrSchemaValidation, err, "provider %s", p.id)
	}
	info, err := p.mapper(raw)
	if err != nil {
		return nil, autherr.Wrapf(autherr.ErrSchemaValidation, err, "provider %s", p.id)
	}
	return info, nil
}
