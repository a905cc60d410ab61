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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/handler"
	"github.com/capitalize-ai/agentreplay/internal/service"
	"github.com/capitalize-ai/agentreplay/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		port string
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace directory over an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				a.cfg.ServerPort = port
			}
			if dir != "" {
				a.cfg.TraceDir = dir
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default from config)")
	cmd.Flags().StringVar(&dir, "dir", "", "trace directory (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agentreplay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	if err := os.MkdirAll(cfg.TraceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create trace dir: %w", err)
	}
	library := service.NewLibrary(cfg.TraceDir, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(cfg, library, log),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("trace_dir", cfg.TraceDir),
			zap.Bool("auth", cfg.JWTSecret != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("server stopped")
	return nil
}
