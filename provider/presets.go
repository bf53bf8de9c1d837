package provider

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mnehpets/cookieauth/session"
)

// Preset holds the endpoints and user-info mapping of a well-known provider.
type Preset struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Scopes      []string
	Extra       map[string]string
	Mapper      Mapper
}

// Presets are keyed by provider id.
var Presets = map[string]Preset{
	"google": {
		AuthURL:     "https://accounts.google.com/o/oauth2/auth",
		TokenURL:    "https://accounts.google.com/o/oauth2/token",
		UserInfoURL: "https://www.googleapis.com/oauth2/v1/userinfo",
		Scopes:      []string{"openid", "profile", "email"},
		Extra:       map[string]string{"access_type": "offline"},
		Mapper: FieldMapper(Fields{
			UserID: "id",
			Email:  "email",
			Name:   "name",
			Avatar: "picture",
			Extras: []string{"locale", "verified_email", "given_name", "family_name"},
		}),
	},
	"github": {
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		Scopes:      []string{"read:user", "user:email"},
		Mapper:      githubMapper,
	},
	"reddit": {
		AuthURL:     "https://www.reddit.com/api/v1/authorize",
		TokenURL:    "https://www.reddit.com/api/v1/access_token",
		UserInfoURL: "https://oauth.reddit.com/api/v1/me",
		Scopes:      []string{"identity"},
		Extra:       map[string]string{"duration": "temporary"},
		Mapper: FieldMapper(Fields{
			UserID:   "id",
			Email:    "email",
			Name:     "name",
			Avatar:   "icon_img",
			Optional: []string{"email"},
		}),
	},
	"facebook": {
		AuthURL:     "https://www.facebook.com/v11.0/dialog/oauth",
		TokenURL:    "https://graph.facebook.com/oauth/access_token",
		UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		Scopes:      []string{"email", "public_profile"},
		Mapper: FieldMapper(Fields{
			UserID:   "id",
			Email:    "email",
			Name:     "name",
			Optional: []string{"email"},
		}),
	},
	"instagram": {
		AuthURL:     "https://api.instagram.com/oauth/authorize",
		TokenURL:    "https://api.instagram.com/oauth/access_token",
		UserInfoURL: "https://graph.instagram.com/me?fields=id,username,account_type,name",
		Scopes:      []string{"user_profile"},
		Mapper: FieldMapper(Fields{
			UserID:   "id",
			Email:    "email",
			Name:     "username",
			Extras:   []string{"account_type", "name"},
			Optional: []string{"email"},
		}),
	},
	"spotify": {
		AuthURL:     "https://accounts.spotify.com/authorize",
		TokenURL:    "https://accounts.spotify.com/api/token",
		UserInfoURL: "https://api.spotify.com/v1/me",
		Scopes:      []string{"user-read-email", "user-read-private"},
		Mapper:      spotifyMapper,
	},
}

// PresetNames returns the preset ids in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Credentials are the per-deployment values a preset needs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes replaces the preset scopes when non-empty.
	Scopes []string
	// Extra is merged over the preset extra parameters.
	Extra map[string]string
	// HTTPClient is used for provider requests when set.
	HTTPClient *http.Client
}

// NewPreset builds the provider called name from its preset.
func NewPreset(name, id string, c Credentials) (*OAuth2, error) {
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return nil, &ConfigError{ID: id, Reason: fmt.Sprintf("unknown preset %q", name)}
	}
	scopes := p.Scopes
	if len(c.Scopes) > 0 {
		scopes = c.Scopes
	}
	extra := map[string]string{}
	for k, v := range p.Extra {
		extra[k] = v
	}
	for k, v := range c.Extra {
		extra[k] = v
	}
	return NewOAuth2(Config{
		ID:           id,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
		UserInfoURL:  p.UserInfoURL,
		Scopes:       scopes,
		Extra:        extra,
		Mapper:       p.Mapper,
		HTTPClient:   c.HTTPClient,
	})
}

// Google is shorthand for NewPreset("google", "google", c).
func Google(c Credentials) (*OAuth2, error) {
	return NewPreset("google", "google", c)
}

// GitHub is shorthand for NewPreset("github", "github", c).
func GitHub(c Credentials) (*OAuth2, error) {
	return NewPreset("github", "github", c)
}

// GitHub users may hide their email and omit a display name.
func githubMapper(raw map[string]any) (*session.UserInfo, error) {
	info, err := FieldMapper(Fields{
		UserID:   "id",
		Email:    "email",
		Name:     "name",
		Avatar:   "avatar_url",
		Extras:   []string{"login", "html_url"},
		Optional: []string{"email", "name"},
	})(raw)
	if err != nil {
		return nil, err
	}
	if info.Name == "" {
		info.Name, _ = scalar(raw["login"])
	}
	return info, nil
}

func spotifyMapper(raw map[string]any) (*session.UserInfo, error) {
	info, err := FieldMapper(Fields{
		UserID: "id",
		Email:  "email",
		Name:   "display_name",
		Extras: []string{"type"},
	})(raw)
	if err != nil {
		return nil, err
	}
	if images, ok := raw["images"].([]any); ok && len(images) > 0 {
		if img, ok := images[0].(map[string]any); ok {
			info.Avatar, _ = scalar(img["url"])
		}
	}
	if urls, ok := raw["external_urls"].(map[string]any); ok {
		if u, ok := scalar(urls["spotify"]); ok {
			if info.Extras == nil {
				info.Extras = map[string]any{}
			}
			info.Extras["spotify_url"] = u
		}
	}
	return info, nil
}
