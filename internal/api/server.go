// Package api serves the JSON read API and the embedded web UI. All state
// lives in the store; the API is read-and-delete only.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nshfwz/forsaken-mail/internal/conf"
	"github.com/nshfwz/forsaken-mail/internal/store"
)

// defaultPollTimeout is the long-poll window for events/next.
const defaultPollTimeout = 25 * time.Second

// Server is the HTTP front end.
type Server struct {
	cfg         *conf.Config
	store       *store.Store
	logger      *zap.Logger
	http        *http.Server
	pollTimeout time.Duration
}

// NewServer builds the HTTP server. A non-nil gatherer mounts /metrics.
func NewServer(cfg *conf.Config, st *store.Store, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		logger:      logger.Named("http"),
		pollTimeout: defaultPollTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/messages", s.handleListByEmail)
	mux.HandleFunc("GET /api/messages/{id}", s.handleGetByEmail)
	mux.HandleFunc("GET /api/mailboxes/{mailbox}/messages", s.handleListByMailbox)
	mux.HandleFunc("DELETE /api/mailboxes/{mailbox}/messages", s.handleClearMailbox)
	mux.HandleFunc("GET /api/mailboxes/{mailbox}/messages/{id}", s.handleGetByMailbox)
	mux.HandleFunc("DELETE /api/mailboxes/{mailbox}/messages/{id}", s.handleDeleteByMailbox)
	mux.HandleFunc("GET /api/mailboxes/{mailbox}/events/next", s.handleNextEvent)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleStatic)

	s.http = &http.Server{
		Handler:           s.withAccessLog(withCORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve accepts requests on the listener until Shutdown. A shutdown-induced
// stop returns nil.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("HTTP listening on", zap.String("addr", listener.Addr().String()))

	err := s.http.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the configured routing stack.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
