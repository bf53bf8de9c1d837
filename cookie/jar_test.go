package cookie

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func findCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == name {
			if found != nil {
				t.Fatalf("cookie %s written twice", name)
			}
			found = c
		}
	}
	return found
}

func TestHTTPJar_SetAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	jar := NewPolicy().Jar(rec, req)

	jar.Set(State, "s", SecurityParamsMaxAge)
	jar.Set(CSRFToken, "c", 0)

	resp := rec.Result()
	st := findCookie(t, resp, "fastauth.state")
	if st == nil {
		t.Fatalf("state cookie not set")
	}
	if !st.HttpOnly || st.Secure || st.Path != "/" || st.SameSite != http.SameSiteLaxMode {
		t.Fatalf("state attributes: %+v", st)
	}
	if st.MaxAge != 900 {
		t.Fatalf("state max-age: got %d want 900", st.MaxAge)
	}

	cs := findCookie(t, resp, "fastauth.csrf-token")
	if cs == nil {
		t.Fatalf("csrf cookie not set")
	}
	if cs.HttpOnly {
		t.Fatalf("csrf cookie must be readable by script")
	}
	if cs.MaxAge != 0 || !cs.Expires.IsZero() {
		t.Fatalf("csrf cookie should be a session cookie: %+v", cs)
	}
}

func TestHTTPJar_SecureMirrorsTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://app.example/", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	NewPolicy().Jar(rec, req).Set(JWT, "v", time.Hour)
	if c := findCookie(t, rec.Result(), "fastauth.jwt"); c == nil || !c.Secure {
		t.Fatalf("expected secure cookie, got %+v", c)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	if NewPolicy().Secure(proxied) {
		t.Fatalf("proxy header trusted without opt-in")
	}
	if !NewPolicy(WithTrustProxyHeaders(true)).Secure(proxied) {
		t.Fatalf("proxy header ignored with opt-in")
	}
}

func TestHTTPJar_GetDeleteAndReplace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "fastauth.jwt", Value: "old"})
	req.AddCookie(&http.Cookie{Name: "other", Value: "x"})
	rec := httptest.NewRecorder()
	jar := NewPolicy(WithDomain("app.example")).Jar(rec, req)

	if v, ok := jar.Get(JWT); !ok || v != "old" {
		t.Fatalf("Get: %q %v", v, ok)
	}
	if _, ok := jar.Get(State); ok {
		t.Fatalf("Get of missing cookie succeeded")
	}

	jar.Set(JWT, "new", time.Hour)
	if v, _ := jar.Get(JWT); v != "new" {
		t.Fatalf("Get after Set: %q", v)
	}
	jar.Delete(JWT)
	if _, ok := jar.Get(JWT); ok {
		t.Fatalf("Get after Delete succeeded")
	}

	c := findCookie(t, rec.Result(), "fastauth.jwt")
	if c == nil {
		t.Fatalf("delete cookie not written")
	}
	if c.MaxAge >= 0 || c.Value != "" || c.Domain != "app.example" || !c.HttpOnly {
		t.Fatalf("delete attributes: %+v", c)
	}
}

func TestMapJar(t *testing.T) {
	jar := MapJar{}
	jar.Set(State, "a", time.Minute)
	if v, ok := jar.Get(State); !ok || v != "a" {
		t.Fatalf("Get: %q %v", v, ok)
	}
	jar.Delete(State)
	if _, ok := jar.Get(State); ok {
		t.Fatalf("Get after Delete succeeded")
	}
}
