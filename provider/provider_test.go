package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/cookieauth/autherr"
	"github.com/mnehpets/cookieauth/session"
	"github.com/stretchr/testify/require"
)

// fakeIDP serves a token and a userinfo endpoint.
type fakeIDP struct {
	*httptest.Server
	tokenStatus    int
	tokenBody      string
	userInfoStatus int
	userInfoBody   string
	lastTokenForm  url.Values
	lastAuthHeader string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	f := &fakeIDP{
		tokenStatus:    http.StatusOK,
		tokenBody:      `{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`,
		userInfoStatus: http.StatusOK,
		userInfoBody:   `{"sub":"u1","email":"u1@example.com","name":"User One","picture":"https://img/u1"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.lastTokenForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuthHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.userInfoStatus)
		_, _ = w.Write([]byte(f.userInfoBody))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIDP) provider(t *testing.T) *OAuth2 {
	t.Helper()
	p, err := NewOAuth2(Config{
		ID:           "fake",
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURL:  "https://app.example/cb",
		AuthURL:      f.URL + "/authorize",
		TokenURL:     f.URL + "/token",
		UserInfoURL:  f.URL + "/userinfo",
	})
	require.NoError(t, err)
	return p
}

func TestAuthorizeURL_Order(t *testing.T) {
	p, err := NewOAuth2(Config{
		ID:          "p",
		ClientID:    "cid",
		RedirectURL: "https://app.example/cb",
		AuthURL:     "https://p.example/authorize",
		TokenURL:    "https://p.example/token",
		UserInfoURL: "https://p.example/me",
		Scopes:      []string{"openid", "email"},
		Extra:       map[string]string{"prompt": "consent", "access_type": "offline"},
	})
	require.NoError(t, err)

	got := p.AuthorizeURL("STATE", "CHALLENGE", "S256")
	want := "https://p.example/authorize?response_type=code&client_id=cid&redirect_uri=https://app.example/cb" +
		"&state=STATE&code_challenge=CHALLENGE&code_challenge_method=S256" +
		"&access_type=offline&prompt=consent&scope=openid%20email"
	require.Equal(t, want, got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "openid email", u.Query().Get("scope"))
	require.Equal(t, "https://app.example/cb", u.Query().Get("redirect_uri"))
}

func TestAuthorizeURL_BaseWithQuery(t *testing.T) {
	got := buildAuthorizeURL("https://p.example/a?scope=x", [][2]string{{"state", "s&t"}}, nil)
	require.Equal(t, "https://p.example/a?scope=x&state=s%26t", got)
}

func TestNewOAuth2_ConfigErrors(t *testing.T) {
	base := Config{ID: "p", ClientID: "c", RedirectURL: "https://a/cb", AuthURL: "https://p/a", TokenURL: "https://p/t", UserInfoURL: "https://p/u"}
	for name, mutate := range map[string]func(*Config){
		"client id": func(c *Config) { c.ClientID = "" },
		"redirect":  func(c *Config) { c.RedirectURL = "" },
		"endpoint":  func(c *Config) { c.TokenURL = "" },
		"id":        func(c *Config) { c.ID = "" },
	} {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			_, err := NewOAuth2(c)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestAccessToken(t *testing.T) {
	f := newFakeIDP(t)
	p := f.provider(t)

	tok, err := p.AccessToken(context.Background(), "the-code", "the-verifier", "the-state")
	require.NoError(t, err)
	require.Equal(t, "at-123", tok)
	require.Equal(t, "authorization_code", f.lastTokenForm.Get("grant_type"))
	require.Equal(t, "the-code", f.lastTokenForm.Get("code"))
	require.Equal(t, "the-verifier", f.lastTokenForm.Get("code_verifier"))
	require.Equal(t, "the-state", f.lastTokenForm.Get("state"))
	require.Equal(t, "cid", f.lastTokenForm.Get("client_id"))
	require.Equal(t, "csecret", f.lastTokenForm.Get("client_secret"))
	require.Equal(t, "https://app.example/cb", f.lastTokenForm.Get("redirect_uri"))
}

func TestAccessToken_Failures(t *testing.T) {
	f := newFakeIDP(t)
	p := f.provider(t)

	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error":"invalid_grant"}`
	_, err := p.AccessToken(context.Background(), "c", "v", "s")
	require.ErrorIs(t, err, autherr.ErrInvalidTokenAcquisitionRequest)
	var re *autherr.ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusBadRequest, re.StatusCode)
	require.Contains(t, string(re.Body), "invalid_grant")

	f.tokenStatus = http.StatusOK
	f.tokenBody = `{"token_type":"Bearer"}`
	_, err = p.AccessToken(context.Background(), "c", "v", "s")
	require.ErrorIs(t, err, autherr.ErrInvalidTokenAcquisitionRequest)
}

func TestAccessToken_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	p, err := NewOAuth2(Config{ID: "slow", ClientID: "c", RedirectURL: "https://a/cb", AuthURL: slow.URL, TokenURL: slow.URL, UserInfoURL: slow.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.AccessToken(ctx, "c", "v", "s")
	require.ErrorIs(t, err, autherr.ErrInvalidTokenAcquisitionRequest)
}

func TestUserInfo(t *testing.T) {
	f := newFakeIDP(t)
	p := f.provider(t)

	info, err := p.UserInfo(context.Background(), "at-123")
	require.NoError(t, err)
	require.Equal(t, "Bearer at-123", f.lastAuthHeader)
	require.Equal(t, &session.UserInfo{
		UserID: "u1",
		Email:  "u1@example.com",
		Name:   "User One",
		Avatar: "https://img/u1",
	}, info)
}

func TestUserInfo_Failures(t *testing.T) {
	f := newFakeIDP(t)
	p := f.provider(t)

	f.userInfoStatus = http.StatusUnauthorized
	f.userInfoBody = `{"error":"invalid_token"}`
	_, err := p.UserInfo(context.Background(), "x")
	require.ErrorIs(t, err, autherr.ErrInvalidUserInfoAccessRequest)

	f.userInfoStatus = http.StatusOK
	f.userInfoBody = `not json`
	_, err = p.UserInfo(context.Background(), "x")
	require.ErrorIs(t, err, autherr.ErrSchemaValidation)

	f.userInfoBody = `{"email":"no-subject@example.com"}`
	_, err = p.UserInfo(context.Background(), "x")
	require.ErrorIs(t, err, autherr.ErrSchemaValidation)
}

func TestPresetMappers(t *testing.T) {
	decode := func(s string) map[string]any {
		var raw map[string]any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&raw))
		return raw
	}

	gh, err := Presets["github"].Mapper(decode(`{"id":12345,"login":"octo","name":null,"email":null,"avatar_url":"https://a/octo"}`))
	require.NoError(t, err)
	require.Equal(t, "12345", gh.UserID)
	require.Equal(t, "octo", gh.Name)
	require.Equal(t, "https://a/octo", gh.Avatar)
	require.Equal(t, "octo", gh.Extras["login"])

	g, err := Presets["google"].Mapper(decode(`{"id":"987","email":"g@example.com","verified_email":true,"name":"G","picture":"https://p","locale":"en"}`))
	require.NoError(t, err)
	require.Equal(t, "987", g.UserID)
	require.Equal(t, true, g.Extras["verified_email"])

	_, err = Presets["google"].Mapper(decode(`{"id":"987","name":"G"}`))
	require.Error(t, err)

	sp, err := Presets["spotify"].Mapper(decode(`{"id":"s1","email":"s@example.com","display_name":"S","type":"user","images":[{"url":"https://i/s1","height":1,"width":1}],"external_urls":{"spotify":"https://open/s1"}}`))
	require.NoError(t, err)
	require.Equal(t, "https://i/s1", sp.Avatar)
	require.Equal(t, "https://open/s1", sp.Extras["spotify_url"])
}

func TestNewPreset(t *testing.T) {
	p, err := GitHub(Credentials{ClientID: "c", ClientSecret: "s", RedirectURL: "https://app/cb"})
	require.NoError(t, err)
	require.Equal(t, "github", p.ID())
	u, err := url.Parse(p.AuthorizeURL("st", "ch", "S256"))
	require.NoError(t, err)
	require.Equal(t, "github.com", u.Host)
	require.Equal(t, "read:user user:email", u.Query().Get("scope"))

	_, err = NewPreset("myspace", "m", Credentials{ClientID: "c", RedirectURL: "https://a"})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, PresetNames(), "google")
}

func TestRegistry(t *testing.T) {
	f := newFakeIDP(t)
	r := NewRegistry(f.provider(t))
	p, ok := r.Get("fake")
	require.True(t, ok)
	require.Equal(t, "fake", p.ID())
	_, ok = r.Get("missing")
	require.False(t, ok)
	require.Equal(t, []string{"fake"}, r.IDs())
}
