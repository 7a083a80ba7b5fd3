package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/NeoboundAI/Skiddly-sub000/internal/app"
	"github.com/NeoboundAI/Skiddly-sub000/internal/telemetry"
	"github.com/NeoboundAI/Skiddly-sub000/internal/worker/callevents"
)

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
		container.Config.App.Name+"-call-events", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	cfg := container.Config
	reader := container.Kafka.NewReader(cfg.Kafka.CallEventTopic, cfg.Kafka.ConsumerGroupID+"-call-events")

	repos := container.Repositories()
	worker := callevents.New(
		reader,
		container.Services().QueueManager,
		repos.Agents,
		repos.Abandonments,
		container.Limiters().Concurrency,
		cfg.Processor,
		container.Logger.Named("callevents"),
	)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
