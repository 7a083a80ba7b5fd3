package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/NeoboundAI/Skiddly-sub000/internal/app"
	"github.com/NeoboundAI/Skiddly-sub000/internal/scheduler"
	"github.com/NeoboundAI/Skiddly-sub000/internal/telemetry"
)

// Headless variant of the pipeline: runs the scan, drain and sweep jobs
// without the HTTP surface.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry,
		container.Config.App.Name+"-worker", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	jobs := scheduler.New(container.Logger.Named("scheduler"))
	if err := app.RegisterJobs(jobs, container); err != nil {
		log.Fatalf("failed to register jobs: %v", err)
	}
	jobs.Start(ctx)

	<-ctx.Done()
	jobs.Shutdown()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
