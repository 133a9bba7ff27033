package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/extraction"
	apihttp "github.com/fyrsmithlabs/dialogd/internal/http"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve live sessions and search over HTTP",
		Long: `Run the session server. A voice pipeline posts user, assistant and
finalize events per session; every session shares the configured index.

Endpoints:
  POST   /api/v1/sessions/:id/events   {"type":"user","text":"..."}
  POST   /api/v1/sessions/:id/flush
  GET    /api/v1/sessions/:id
  DELETE /api/v1/sessions/:id
  GET    /api/v1/search?q=...&limit=10
  GET    /health
  GET    /metrics

Open sessions are drained on SIGINT or SIGTERM.

Examples:
  dialogd serve
  dialogd serve --host 0.0.0.0 --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *cfgPath, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, cfgPath, host string, port int) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(context.Background()); err != nil {
			rt.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
		}
	}()

	zl := rt.logger.Underlying()
	extractor, err := extraction.New(rt.cfg.Extraction, zl)
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}

	srvCfg := &apihttp.Config{
		Host:  rt.cfg.Server.Host,
		Port:  rt.cfg.Server.Port,
		Meter: rt.tel.Meter(meterName),
	}
	if host != "" {
		srvCfg.Host = host
	}
	if port != 0 {
		srvCfg.Port = port
	}

	systemPrompt := rt.cfg.Session.SystemPrompt
	factory := func(sessionID string) *conversation.IndexingLog {
		return rt.newIndexingLog(extractor, systemPrompt, sessionID)
	}

	srv, err := apihttp.NewServer(rt.index, factory, zl.Named("http"), srvCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		rt.logger.Info(ctx, "received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutting down: %w", err))
	}
	return serveErr
}
