package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"triage_server/config"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "triage",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "", "Run mode: api, runner, all (overrides MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if cfg.IsDevelopment() {
		logger.Init(logger.Config{
			Level:   logger.LevelDebug,
			Service: "triage",
		})
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received (timeout: %v)...", shutdownTimeout)
		cancel()
	}()

	var wg sync.WaitGroup

	if cfg.Mode == "runner" || cfg.Mode == "all" {
		r, err := bootstrap.NewRunner(cfg, deps)
		if err != nil {
			if cfg.Mode == "runner" {
				logger.Fatal("Failed to initialize runner: %v", err)
			}
			logger.Warn("Runner disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info("Starting runner...")
				if err := r.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("Runner stopped: %v", err)
				}
			}()
		}
	}

	if cfg.Mode == "api" || cfg.Mode == "all" {
		app := bootstrap.NewAPI(cfg, deps)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()

			done := make(chan error, 1)
			go func() {
				done <- app.Shutdown()
			}()

			select {
			case err := <-done:
				if err != nil {
					logger.Error("Error shutting down API: %v", err)
				} else {
					logger.Info("API server shut down gracefully")
				}
			case <-time.After(shutdownTimeout):
				logger.Warn("API shutdown timed out, forcing exit")
			}
		}()

		addr := ":" + cfg.Port
		logger.Info("Starting API server on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server: %v", err)
		}
	}

	wg.Wait()
}
