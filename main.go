package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/harryneopotter/teacher-website-public/internal/app"
	"github.com/harryneopotter/teacher-website-public/internal/config"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.InitLogger(cfg.LogLevel, cfg.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Showcase intake is starting", map[string]interface{}{
		"log_level":   cfg.LogLevel,
		"local_store": cfg.UseLocalStore,
		"has_storage": cfg.HasStorageCredentials(),
		"has_ai":      cfg.HasAIConfig(),
		"port":        cfg.Port,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to assemble service", map[string]interface{}{
			"error": err.Error(),
		})
		log.Fatalf("Failed to assemble service: %v", err)
	}
	defer service.Close()

	logger.InfoMsg("📚 Ready to collect student work")

	if err := service.Run(ctx); err != nil {
		logger.Error("Server error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
