// Package main provides the MCP server entry point for the Sinhala tutor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/app"
	"github.com/bull/sinhala-tutor-rag/internal/config"
	"github.com/bull/sinhala-tutor-rag/internal/logging"
	mcpserver "github.com/bull/sinhala-tutor-rag/internal/mcp"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("TUTOR_CONFIG_FILE"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer a.Close()

	server := mcpserver.NewServer(&mcpserver.Config{
		Assistant: a.Assistant,
		Pipeline:  a.Pipeline,
		Resources: a.Store,
		Metrics:   a.Metrics,
		Logger:    logger.Named("mcp"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(a.Store))
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{Stateless: true}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Mode == "http" {
		logger.Info("Starting HTTP server",
			zap.String("addr", httpServer.Addr),
			zap.String("driver", cfg.Database.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Stdio mode still serves health and metrics for local testing.
	go func() {
		logger.Info("Starting health server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server stopped", zap.Error(err))
		}
	}()
	return server.Run(ctx)
}
