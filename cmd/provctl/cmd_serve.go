package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"provenance/internal/config"
	"provenance/internal/store"
)

func (a *app) newServeCmd() *cobra.Command {
	var (
		interval time.Duration
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Periodically re-verify the archive and expose Prometheus metrics",
		Long: `Serve audits the archive on a fixed interval and serves /metrics on the
configured listen address. The config file is watched; a valid change
takes effect on the next audit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, listen, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "time between archive audits")
	cmd.Flags().StringVar(&listen, "listen", "", "metrics listen address (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context, listen string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	var concurrency atomic.Int64
	concurrency.Store(int64(a.cfg.Storage.VerifyConcurrency))

	loader := config.NewLoader(a.configPath)
	if _, err := loader.Load(); err == nil {
		loader.OnChange(func(cfg *config.Config) {
			concurrency.Store(int64(cfg.Storage.VerifyConcurrency))
			a.logger.Info("configuration reloaded", "verify_concurrency", cfg.Storage.VerifyConcurrency)
		})
		if err := loader.Watch(); err != nil {
			a.logger.Warn("config watch unavailable", "error", err)
		}
		defer loader.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-loader.Errors():
					a.logger.Warn("config reload rejected", "error", err)
				}
			}
		}()
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("serving metrics", "addr", listen, "interval", interval)

	audit := func() {
		results, err := s.VerifyAll(ctx, int(concurrency.Load()))
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("archive audit failed", "error", err)
			}
			return
		}
		a.logger.Info("archive audited", "documents", len(results), "invalid", countInvalid(results))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	audit()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("metrics server: %w", err)
		case <-ticker.C:
			audit()
		}
	}
}

func countInvalid(results []store.Verification) int {
	n := 0
	for _, v := range results {
		if !v.Valid {
			n++
		}
	}
	return n
}
