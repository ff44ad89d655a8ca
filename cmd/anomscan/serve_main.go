package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/anomscan/internal/application"
	"github.com/sawpanic/anomscan/internal/cache"
	httpapi "github.com/sawpanic/anomscan/internal/interfaces/http"
	"github.com/sawpanic/anomscan/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the anomaly HTTP API",
		Long:  "Serves POST /v1/anomalies, GET /v1/ws, GET /health and GET /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP server host")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")

	return cmd
}

func (a *app) runServe(parent context.Context) error {
	c, err := cache.New(a.cfg.CacheOptions())
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		defer closer.Close()
	}

	registry := metrics.NewRegistry()
	analyzer := application.NewAnalyzer(c, a.cfg.Cache.TTL, registry)
	health := httpapi.NewHealthHandler(c, version)
	server := httpapi.NewServer(a.cfg.Server, analyzer, a.cfg.EngineConfig(), health)

	addr := server.Address()
	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("anomalies", fmt.Sprintf("http://%s/v1/anomalies", addr)).
			Str("ws", fmt.Sprintf("ws://%s/v1/ws", addr)).
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("cache", c.Name()).
			Msg("Endpoints available")

		serverErr <- server.Start()
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
