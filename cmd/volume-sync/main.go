package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/monitor"
	"github.com/anden3/volume-sync/internal/platform/local"
	"github.com/anden3/volume-sync/internal/server"
)

const (
	defaultPort       = "8080"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var monOpts []monitor.Option
	if raw := os.Getenv("MAX_LEVEL"); raw != "" {
		level, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return fmt.Errorf("parse MAX_LEVEL %q: %w", raw, err)
		}
		monOpts = append(monOpts, monitor.WithMaxLevel(float32(level)))
	}

	sys := local.New(logger.Named("platform"))
	mon := monitor.New(logger.Named("monitor"), sys, monOpts...)

	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	select {
	case <-mon.Ready():
	case err := <-monErr:
		return fmt.Errorf("start monitor: %w", err)
	}

	srv := server.New(logger.Named("server"), mon)
	go srv.Run(ctx)

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", httpSrv.Addr))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-monErr:
		return fmt.Errorf("monitor: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	if err := <-monErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
