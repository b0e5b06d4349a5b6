// Package smtp implements the inbound SMTP receiver. It accepts mail on a
// plain TCP listener, runs one session goroutine per connection, and hands
// accepted messages to the store.
package smtp

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nshfwz/forsaken-mail/internal/conf"
	"github.com/nshfwz/forsaken-mail/internal/metrics"
	"github.com/nshfwz/forsaken-mail/internal/store"
)

// Server accepts SMTP connections and delivers received messages into the
// store.
type Server struct {
	cfg      *conf.Config
	store    *store.Store
	logger   *zap.Logger
	metrics  metrics.Collector
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex
}

// NewServer creates an SMTP server bound to nothing yet; call Start to
// listen.
func NewServer(cfg *conf.Config, st *store.Store, logger *zap.Logger, collector metrics.Collector) *Server {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		logger:   logger.Named("smtp"),
		metrics:  collector,
		shutdown: make(chan struct{}),
	}
}

// Start binds the configured address and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.SMTPAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("SMTP listening on", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections(listener)
	return nil
}

func (s *Server) acceptConnections(listener net.Listener) {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				s.logger.Error("accept failed, stopping listener", zap.Error(err))
			}
			return
		}

		s.metrics.ConnectionOpened()
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.metrics.ConnectionClosed()

	sess := newSession(conn, s.cfg, s.store, s.logger, s.metrics)
	if err := sess.handle(); err != nil {
		s.logger.Debug("session ended",
			zap.String("peer", conn.RemoteAddr().String()),
			zap.Error(err))
	}
}

// Shutdown stops accepting connections and waits for in-flight sessions to
// finish. Sessions are not forcibly closed; when ctx expires first the
// context error is returned and the remaining sessions are abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
