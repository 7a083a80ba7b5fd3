// Package app wires shared infrastructure and lazily built components.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/NeoboundAI/Skiddly-sub000/internal/callbridge"
	callbridgemock "github.com/NeoboundAI/Skiddly-sub000/internal/callbridge/mock"
	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/infra/db"
	"github.com/NeoboundAI/Skiddly-sub000/internal/infra/redis"
	"github.com/NeoboundAI/Skiddly-sub000/internal/processor"
	"github.com/NeoboundAI/Skiddly-sub000/internal/queue"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	pgrepo "github.com/NeoboundAI/Skiddly-sub000/internal/repository/postgres"
	scyllarepo "github.com/NeoboundAI/Skiddly-sub000/internal/repository/scylla"
	"github.com/NeoboundAI/Skiddly-sub000/internal/scanner"
	"github.com/NeoboundAI/Skiddly-sub000/internal/service/concurrency"
	queuesvc "github.com/NeoboundAI/Skiddly-sub000/internal/service/queue"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *Repositories
		services     *Services
		publishers   *Publishers
		providers    *Providers
		limiters     *Limiters
	}
}

// Repositories groups the persistence layer.
type Repositories struct {
	Carts        repository.CartRepository
	Agents       repository.AgentRepository
	Abandonments repository.AbandonmentRepository
	Queue        repository.CallQueueRepository
	Billing      repository.BillingRepository
	Archive      repository.ArchiveStore
}

// Services groups the orchestration layer.
type Services struct {
	QueueManager *queuesvc.Manager
	Scanner      *scanner.Scanner
	Processor    *processor.Processor
}

// Publishers groups Kafka producers.
type Publishers struct {
	Archive    *queue.ArchivePublisher
	CallEvents *queue.CallEventPublisher
}

// Providers groups external integrations.
type Providers struct {
	CallBridge callbridge.Provider
}

// Limiters groups throttling utilities.
type Limiters struct {
	Concurrency *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &Repositories{
			Carts:        pgrepo.NewCartRepository(c.Postgres.DB()),
			Agents:       pgrepo.NewAgentRepository(c.Postgres.DB()),
			Abandonments: pgrepo.NewAbandonmentRepository(c.Postgres.DB()),
			Queue:        pgrepo.NewCallQueueRepository(c.Postgres.DB()),
			Billing:      pgrepo.NewBillingRepository(c.Postgres.DB()),
			Archive:      scyllarepo.NewArchiveStore(c.Scylla.Session()),
		}

		publishers := &Publishers{
			Archive:    queue.NewArchivePublisher(c.Kafka, c.Config.Kafka.ArchiveTopic),
			CallEvents: queue.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventTopic),
		}

		providers := &Providers{
			CallBridge: callbridgemock.NewProvider(c.Config.CallBridge),
		}

		limiters := &Limiters{
			Concurrency: concurrency.NewLimiter(
				c.Redis.Inner(),
				c.Config.Throttle.PerAgentConcurrency,
				c.Config.Throttle.SlotTTL,
			),
		}

		manager := queuesvc.NewManager(
			repos.Queue,
			repos.Abandonments,
			repos.Agents,
			repos.Carts,
			repos.Archive,
			publishers.Archive,
			c.Logger.Named("queue"),
		)

		services := &Services{
			QueueManager: manager,
			Scanner: scanner.New(
				repos.Carts,
				repos.Agents,
				repos.Abandonments,
				repos.Queue,
				repos.Billing,
				c.Config.Scanner,
				c.Logger.Named("scanner"),
			),
			Processor: processor.New(
				manager,
				repos.Agents,
				repos.Carts,
				repos.Abandonments,
				providers.CallBridge,
				limiters.Concurrency,
				c.Config.Processor,
				c.Config.CallBridge,
				c.Config.Throttle,
				c.Logger.Named("processor"),
			),
		}

		c.components.repositories = repos
		c.components.publishers = publishers
		c.components.providers = providers
		c.components.limiters = limiters
		c.components.services = services
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *Services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka producers.
func (c *Container) Publishers() *Publishers {
	c.initComponents()
	return c.components.publishers
}

// Providers exposes external integrations.
func (c *Container) Providers() *Providers {
	c.initComponents()
	return c.components.providers
}

// Limiters exposes throttling utilities.
func (c *Container) Limiters() *Limiters {
	c.initComponents()
	return c.components.limiters
}

// EnsureTopics creates the Kafka topics the pipeline produces and consumes.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{
		c.Config.Kafka.CallEventTopic,
		c.Config.Kafka.ArchiveTopic,
	}
	return c.Kafka.EnsureTopics(ctx, topics, 3, 1)
}

// Close tears down infrastructure connections.
func (c *Container) Close(ctx context.Context) error {
	var firstErr error
	if pubs := c.components.publishers; pubs != nil {
		if err := pubs.Archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := pubs.CallEvents.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.Kafka.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Scylla.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Postgres.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	c.Logger.Sync()
	return firstErr
}
