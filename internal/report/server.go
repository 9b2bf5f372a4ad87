package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
)

const shutdownTimeout = 3 * time.Second

// Paths left out of the request log. Liveness probes are noise, and a
// hijacked websocket has no response status to report; the hub logs stream
// clients itself.
var unloggedPaths = []string{"/healthz", "/ws"}

// Scrapes are logged at most once per period.
const metricsQuietPeriod = time.Minute

// Server is the HTTP surface of the meter:
//
//	GET /healthz  liveness probe
//	GET /status   current Snapshot as JSON
//	GET /metrics  Prometheus exposition
//	GET /ws       websocket state stream
type Server struct {
	addr    string
	src     SnapshotSource
	stream  *Stream
	metrics *Metrics
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the router. stream and metrics may be nil, in which case
// their routes are not mounted.
func NewServer(addr string, src SnapshotSource, stream *Stream, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		src:     src,
		stream:  stream,
		metrics: metrics,
		logger:  logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// RequestLogger also installs chi's RequestID and Recoverer.
	requestLogger := &httplog.Logger{
		Logger: s.logger,
		Options: httplog.Options{
			Concise:         true,
			QuietDownRoutes: []string{"/metrics"},
			QuietDownPeriod: metricsQuietPeriod,
		},
	}
	r.Use(httplog.RequestLogger(requestLogger, unloggedPaths))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.stream != nil {
		r.Method(http.MethodGet, "/ws", s.stream)
	}

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Snapshot()); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("HTTP listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and shuts down gracefully when ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
