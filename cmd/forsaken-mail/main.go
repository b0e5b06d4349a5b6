package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nshfwz/forsaken-mail/internal/api"
	"github.com/nshfwz/forsaken-mail/internal/conf"
	"github.com/nshfwz/forsaken-mail/internal/logging"
	"github.com/nshfwz/forsaken-mail/internal/metrics"
	"github.com/nshfwz/forsaken-mail/internal/smtp"
	"github.com/nshfwz/forsaken-mail/internal/store"
	"github.com/nshfwz/forsaken-mail/internal/version"
)

const (
	cleanupInterval  = time.Minute
	shutdownDeadline = 10 * time.Second
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := conf.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting forsaken-mail",
		zap.String("version", version.Version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("smtp_addr", cfg.SMTPAddr),
		zap.String("domain", cfg.Domain))

	var collector metrics.Collector = &metrics.NoopCollector{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheusCollector(registry)
		gatherer = registry
	}

	st := store.New(cfg.MaxMessagesPerMailbox, cfg.MessageTTL(), collector)

	smtpServer := smtp.NewServer(cfg, st, logger, collector)
	if err := smtpServer.Start(); err != nil {
		return fmt.Errorf("start smtp server: %w", err)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		_ = smtpServer.Shutdown(stopCtx)
		return fmt.Errorf("bind http listener: %w", err)
	}

	apiServer := api.NewServer(cfg, st, logger, gatherer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiServer.Serve(httpListener); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := st.CleanupExpired(); removed > 0 {
					logger.Info("expired messages cleaned", zap.Int("removed", removed))
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()

		httpErr := apiServer.Shutdown(drainCtx)
		smtpErr := smtpServer.Shutdown(drainCtx)
		st.Close()

		if errors.Is(httpErr, context.DeadlineExceeded) || errors.Is(smtpErr, context.DeadlineExceeded) {
			logger.Warn("shutdown timeout reached, exiting")
			return nil
		}
		return errors.Join(httpErr, smtpErr)
	})

	err = g.Wait()
	logger.Info("forsaken-mail stopped")
	return err
}
