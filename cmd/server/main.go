package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AbdullahHR10/ChatFlow/internal/api"
	"github.com/AbdullahHR10/ChatFlow/internal/config"
	"github.com/AbdullahHR10/ChatFlow/internal/db"
	"github.com/AbdullahHR10/ChatFlow/internal/metrics"
	"github.com/AbdullahHR10/ChatFlow/internal/websocket"
)

func setupLogger(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func main() {
	cfg := config.Load()

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting server...")

	database, err := db.NewDB(cfg.CleanDatabasePath(), logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connection established")

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hub := websocket.NewHub(database, database, logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	logger.Info("WebSocket hub initialized")

	handlers := api.NewHandlers(database, hub, logger, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: handlers.Router(registry),
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("Received signal: %v", sig)

	logger.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
	cancel()
	logger.Info("Server stopped")
}
