package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/webitel/im-presence-service/infra/server/http/interceptors"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

type denyAll struct{}

func (denyAll) Authenticate(context.Context, string) (*model.AuthUser, error) {
	return nil, interceptors.ErrNoToken
}

type checker struct{ err error }

func (c checker) Healthy() error { return c.err }

func TestHealthReportsFailingDependency(t *testing.T) {
	t.Parallel()

	r := NewRouter(http.NotFoundHandler(), denyAll{}, map[string]HealthChecker{
		"cache":          checker{},
		"presence_store": checker{err: errors.New("circuit open")},
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "presence_store: circuit open") {
		t.Fatalf("body = %q", body)
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	reached := false
	gw := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })
	r := NewRouter(gw, denyAll{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"ws without token", http.MethodGet, "/ws", http.StatusUnauthorized},
		{"ws wrong method", http.MethodPost, "/ws", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/v1/presence", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
	if reached {
		t.Fatal("gateway reached without authentication")
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("127.0.0.1:0", NewRouter(http.NotFoundHandler(), denyAll{}, nil), 0, logger)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/healthz"); err == nil {
		t.Fatal("server still serving after Stop")
	}
}
