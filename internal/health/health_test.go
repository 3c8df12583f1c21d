package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthz(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("session is recovering") }

	tc := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
		checks   map[string]string
	}{
		{
			name:     "all pass",
			checkers: []Checker{{Name: "session", Check: pass}},
			code:     http.StatusOK,
			status:   "ok",
			checks:   map[string]string{"session": "ok"},
		},
		{
			name:     "one fails",
			checkers: []Checker{{Name: "config", Check: pass}, {Name: "session", Check: fail}},
			code:     http.StatusServiceUnavailable,
			status:   "fail",
			checks:   map[string]string{"config": "ok", "session": "fail: session is recovering"},
		},
		{
			name:   "no checkers",
			code:   http.StatusOK,
			status: "ok",
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(test.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != test.code {
				t.Errorf("status code = %d, want %d", rec.Code, test.code)
			}
			var body result
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode JSON: %v", err)
			}
			if body.Status != test.status {
				t.Errorf("status = %q, want %q", body.Status, test.status)
			}
			for name, want := range test.checks {
				if body.Checks[name] != want {
					t.Errorf("checks[%q] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	New().Register(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, mux) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
