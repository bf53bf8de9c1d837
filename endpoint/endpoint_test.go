package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type headerProcessor struct {
	Key   string
	Value string
}

func (hp headerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	w.Header().Set(hp.Key, hp.Value)
	return next(w, r)
}

func TestHandler_ProcessorsThenRenderer(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, p struct {
		Name string `query:"name"`
	}) (Renderer, error) {
		return &StringRenderer{Body: "hello " + p.Name}, nil
	}, headerProcessor{Key: "X-Test", Value: "1"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?name=world", nil))

	if got := rec.Header().Get("X-Test"); got != "1" {
		t.Fatalf("X-Test = %q, want 1", got)
	}
	if got := rec.Body.String(); got != "hello world" {
		t.Fatalf("body = %q", got)
	}
}

func TestHandler_ShortCircuit(t *testing.T) {
	called := false
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		called = true
		return &NoContentRenderer{}, nil
	}, ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		return Error(http.StatusForbidden, "nope", nil)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if called {
		t.Fatal("endpoint ran after short-circuit")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "nope" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestHandler_PlainErrorIs500AndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := HandleFunc(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return nil, errors.New("secret detail")
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(logger.WithContext(req.Context()))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret detail") {
		t.Fatal("internal error leaked to client")
	}
	if !strings.Contains(buf.String(), "secret detail") {
		t.Fatalf("error not logged: %s", buf.String())
	}
}

func TestHandler_DeferRunsOnSuccessAndError(t *testing.T) {
	hook := ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		Defer(r.Context(), func(w http.ResponseWriter) {
			w.Header().Add("X-Hook", "1")
		})
		return next(w, r)
	})

	ok := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return &NoContentRenderer{}, nil
	}, hook)
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Values("X-Hook"); len(got) != 1 {
		t.Fatalf("hook ran %d times on success", len(got))
	}

	fail := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return nil, Error(http.StatusBadRequest, "", nil)
	}, hook)
	rec = httptest.NewRecorder()
	fail.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Values("X-Hook"); len(got) != 1 {
		t.Fatalf("hook ran %d times on error", len(got))
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestError_NoDoubleWrap(t *testing.T) {
	inner := Error(http.StatusUnauthorized, "a", nil)
	outer := Error(http.StatusInternalServerError, "b", inner)
	var ee *EndpointError
	if !errors.As(outer, &ee) || ee.Status != http.StatusUnauthorized {
		t.Fatalf("got %v", outer)
	}
}

func TestRenderers(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	jr := &JSONRenderer{Status: http.StatusUnauthorized, Value: map[string]string{"a": "<b>"}, Header: http.Header{"Www-Authenticate": {"Bearer"}}}
	if err := jr.Render(rec, req); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("code=%d headers=%v", rec.Code, rec.Header())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"a":"<b>"}` {
		t.Fatalf("body = %s", got)
	}

	rec = httptest.NewRecorder()
	if err := (&RedirectRenderer{URL: "/next"}).Render(rec, req); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/next" {
		t.Fatalf("redirect: %d %q", rec.Code, rec.Header().Get("Location"))
	}
}
