// Command brsrd serves extraction, audit and PDF rendering over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dshills/brsrcheck/internal/audit"
	"github.com/dshills/brsrcheck/internal/config"
	"github.com/dshills/brsrcheck/internal/extract"
	"github.com/dshills/brsrcheck/internal/llm"
	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "brsrd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	provider, err := llm.NewProvider(cfg.Model.Spec)
	if err != nil {
		return err
	}
	defaultKey := cfg.Model.DefaultAPIKey
	if env := llm.KeyEnv(cfg.Model.Spec); env != "GEMINI_API_KEY" {
		defaultKey = os.Getenv(env)
	}
	if defaultKey == "" {
		log.Warn("brsrd.no_default_key", zap.String("env", llm.KeyEnv(cfg.Model.Spec)))
	}

	client := llm.NewClient(provider, llm.Config{
		DefaultAPIKey: defaultKey,
		Retry:         cfg.Model.Retry,
		Timeout:       cfg.Model.Timeout,
		Logger:        log,
	})
	srv := server.New(
		extract.NewModelExtractor(client, cfg.Extract.MaxChars, log),
		audit.NewEngine(client, nil, log),
		log,
	)

	r := chi.NewRouter()
	r.Mount("/", srv.Routes())
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("brsrd.listening",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.String("model", cfg.Model.Spec),
		zap.Int("max_attempts", cfg.Model.Retry.Attempts))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("brsrd.shutdown", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}
