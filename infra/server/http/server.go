package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-presence-service/infra/server/http/interceptors"
)

const defaultShutdownTimeout = 10 * time.Second

// Server owns the listener serving the socket upgrade and health endpoints.
type Server struct {
	logger          *slog.Logger
	srv             *http.Server
	ln              net.Listener
	shutdownTimeout time.Duration
}

// HealthChecker is a dependency /healthz consults on every request.
type HealthChecker interface {
	Healthy() error
}

// NewRouter mounts /ws behind connect-time authentication. /healthz answers
// 503 while any named checker fails.
func NewRouter(gateway http.Handler, auther interceptors.Authenticator, checks map[string]HealthChecker) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, name := range slices.Sorted(maps.Keys(checks)) {
			if err := checks[name].Healthy(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "%s: %v\n", name, err)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.With(interceptors.NewAuthMiddleware(auther)).Get("/ws", gateway.ServeHTTP)

	return r
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener synchronously so a busy port fails startup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "addr", s.Addr(), "err", err)
		}
	}()
	s.logger.Info("HTTP_SERVER_STARTED", "addr", s.Addr())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Stop drains plain HTTP requests; hijacked sockets are closed by the registry shutdown.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.logger.Info("HTTP_SERVER_STOPPED", "addr", s.Addr())
	return err
}
