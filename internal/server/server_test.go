package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/shared"
	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	codes []string
	token *oauth2.Token
	err   error
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	return f.token, f.err
}

func callback(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))
	return rec
}

func receive(t *testing.T, h *OAuthHandler) OAuthResult {
	t.Helper()
	select {
	case res := <-h.Result():
		return res
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
		return OAuthResult{}
	}
}

func TestOAuthHandler(t *testing.T) {
	t.Run("exchanges the code", func(t *testing.T) {
		ex := &fakeExchanger{token: &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}}
		h := NewOAuthHandler(ex, "xyz", "")

		rec := callback(t, h, "state=xyz&code=abc")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Archive access granted") {
			t.Error("success page expected")
		}

		res := receive(t, h)
		if res.Err != nil || res.Token.AccessToken != "access" {
			t.Errorf("unexpected result %+v", res)
		}
		if len(ex.codes) != 1 || ex.codes[0] != "abc" {
			t.Errorf("unexpected exchanged codes %v", ex.codes)
		}
		if _, open := <-h.Result(); open {
			t.Error("result channel must be closed after one result")
		}
	})

	t.Run("state mismatch", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "xyz", "/callback")

		if rec := callback(t, h, "state=evil&code=abc"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if res := receive(t, h); !errors.Is(res.Err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", res.Err)
		}
		if len(ex.codes) != 0 {
			t.Error("code must not be exchanged on state mismatch")
		}
	})

	t.Run("denied by the user", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "xyz", "")

		callback(t, h, "state=xyz&error=access_denied")
		res := receive(t, h)
		if !errors.Is(res.Err, shared.ErrAuthFailed) || !strings.Contains(res.Err.Error(), "access_denied") {
			t.Errorf("unexpected error %v", res.Err)
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{err: errors.New("invalid_grant")}, "xyz", "")

		if rec := callback(t, h, "state=xyz&code=abc"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if res := receive(t, h); res.Err == nil {
			t.Error("expected exchange error")
		}
	})

	t.Run("second callback rejected", func(t *testing.T) {
		ex := &fakeExchanger{token: &oauth2.Token{AccessToken: "a"}}
		h := NewOAuthHandler(ex, "xyz", "")

		callback(t, h, "state=xyz&code=one")
		if rec := callback(t, h, "state=xyz&code=two"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for replay, got %d", rec.Code)
		}
		if len(ex.codes) != 1 {
			t.Errorf("expected one exchange, got %v", ex.codes)
		}
	})

	t.Run("routes", func(t *testing.T) {
		if got := NewOAuthHandler(nil, "s", "/auth/cb").Routes(); len(got) != 1 || got[0] != "/auth/cb" {
			t.Errorf("unexpected routes %v", got)
		}
	})
}

func TestBasicRouter(t *testing.T) {
	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handler(NewOAuthHandler(&fakeExchanger{}, "s", ""))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewBasicRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestLogging(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs)
	logger.SetLevel(log.DebugLevel)

	r := NewBasicRouter()
	r.Use(Logging(logger))
	r.Handler(NewOAuthHandler(&fakeExchanger{}, "xyz", ""))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=bad", nil))

	out := logs.String()
	if !strings.Contains(out, "/callback") || !strings.Contains(out, "400") {
		t.Errorf("request not logged with its status: %s", out)
	}
}

func TestStart(t *testing.T) {
	h := NewOAuthHandler(&fakeExchanger{token: &oauth2.Token{AccessToken: "a"}}, "xyz", "")
	r := NewBasicRouter()
	r.Handler(h)

	srv, err := Start("127.0.0.1:0", r)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/callback?state=xyz&code=abc")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if res := receive(t, h); res.Token == nil {
		t.Error("expected token")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
