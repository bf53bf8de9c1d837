package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type upper string

func (u *upper) UnmarshalText(b []byte) error {
	*u = upper(strings.ToUpper(string(b)))
	return nil
}

type callbackParams struct {
	Provider string   `path:"provider"`
	Code     string   `query:"code"`
	State    string   `query:"state" maxLength:"8"`
	Token    string   `header:"X-CSRF-Token" form:"csrf_token"`
	Session  string   `cookie:"sid"`
	N        int      `query:"n"`
	Tags     []string `query:"tag"`
	Kind     upper    `query:"kind"`
	Ignored  string   `query:"-"`
}

func decode(t *testing.T, req *http.Request) (callbackParams, error) {
	t.Helper()
	var p callbackParams
	var err error
	mux := http.NewServeMux()
	mux.HandleFunc("/cb/{provider}", func(w http.ResponseWriter, r *http.Request) {
		err = Unmarshal(r, &p)
	})
	mux.ServeHTTP(httptest.NewRecorder(), req)
	return p, err
}

func TestUnmarshal_Sources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cb/google?code=c1&state=s1&n=3&tag=a&tag=b&kind=oidc&Ignored=x", nil)
	req.Header.Set("X-CSRF-Token", "hdr")
	req.AddCookie(&http.Cookie{Name: "sid", Value: "cookie-v"})

	p, err := decode(t, req)
	if err != nil {
		t.Fatal(err)
	}
	if p.Provider != "google" || p.Code != "c1" || p.State != "s1" || p.N != 3 {
		t.Fatalf("got %+v", p)
	}
	if len(p.Tags) != 2 || p.Tags[1] != "b" {
		t.Fatalf("tags = %v", p.Tags)
	}
	if p.Kind != "OIDC" || p.Token != "hdr" || p.Session != "cookie-v" || p.Ignored != "" {
		t.Fatalf("got %+v", p)
	}
}

func TestUnmarshal_FormBeforeHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cb/x", strings.NewReader("csrf_token=form"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", "hdr")
	p, err := decode(t, req)
	if err != nil {
		t.Fatal(err)
	}
	if p.Token != "form" {
		t.Fatalf("token = %q", p.Token)
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	_, err := decode(t, httptest.NewRequest(http.MethodGet, "/cb/x?state=123456789", nil))
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("max length: got %v", err)
	}

	_, err = decode(t, httptest.NewRequest(http.MethodGet, "/cb/x?n=abc", nil))
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("bad int: got %v", err)
	}

	var notStruct int
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), &notStruct); err == nil {
		t.Fatal("expected error for non-struct dst")
	}
}

func TestUnmarshal_LengthLimits(t *testing.T) {
	var p struct {
		Capped  string `query:"capped"`
		Unbound string `query:"unbound" maxLength:"0"`
	}
	long := strings.Repeat("x", defaultFieldLimit+1)

	req := httptest.NewRequest(http.MethodGet, "/?unbound="+long, nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Unbound) != len(long) {
		t.Fatalf("unbound len = %d", len(p.Unbound))
	}

	req = httptest.NewRequest(http.MethodGet, "/?capped="+long, nil)
	if err := Unmarshal(req, &p); err == nil {
		t.Fatal("expected default limit to apply")
	}
}
