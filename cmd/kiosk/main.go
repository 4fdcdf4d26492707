package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/video-system/go-photo-kiosk/internal/logger"
	"github.com/video-system/go-photo-kiosk/pkg/api"
	"github.com/video-system/go-photo-kiosk/pkg/capture"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (empty for defaults + KIOSK_* env)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("go-photo-kiosk", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "kiosk: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := capture.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, err := capture.NewManager(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	health := manager.Health(ctx)
	log.Info("kiosk: starting",
		"version", version,
		"status", health.Status,
		"devices", len(health.Devices),
		"missing", health.Missing,
	)

	apiServer := api.NewServer(api.ServerConfig{
		Host:   cfg.API.Host,
		Port:   cfg.API.Port,
		Kiosk:  manager,
		Logger: log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		log.Info("kiosk: shutdown signal received")
	case err = <-errCh:
		if err != nil {
			log.Error("kiosk: api server failed", "error", err)
		}
	}

	// Cleanup
	apiServer.Stop()
	manager.Stop()

	log.Info("kiosk: stopped")
	return err
}
