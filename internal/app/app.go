// Package app wires configuration, logging, and the storage backends
// into a single container shared by the CLI commands.
package app

import (
	"context"
	"fmt"

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/api"
	"github.com/tributolabs/iptu-scraper/internal/config"
	"github.com/tributolabs/iptu-scraper/internal/logging"
	pubmemory "github.com/tributolabs/iptu-scraper/internal/publisher/memory"
	"github.com/tributolabs/iptu-scraper/internal/publisher/pubsub"
	"github.com/tributolabs/iptu-scraper/internal/scraper"
	"github.com/tributolabs/iptu-scraper/internal/storage/gcs"
	"github.com/tributolabs/iptu-scraper/internal/storage/local"
	"github.com/tributolabs/iptu-scraper/internal/storage/memory"
	"github.com/tributolabs/iptu-scraper/internal/storage/postgres"
)

// App holds the shared dependencies for one CLI invocation.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Jobs      scraper.JobSource
	Results   *postgres.ResultStore
	Batches   *postgres.BatchStore
	Snapshots scraper.SnapshotStore
	Notifier  scraper.ResultSink

	jobStore     *postgres.JobStore
	pubsubClient *pubsubclient.Client
	gcsClient    *gcsclient.Client
	pub          *pubsub.Publisher
}

// New builds the container. Without a database DSN the job queue falls
// back to an empty in-memory store, which keeps dry runs working.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger}

	if cfg.DB.DSN != "" {
		if err := a.initStores(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("db.dsn not set, using in-memory job queue")
		a.Jobs = memory.NewJobStore()
	}

	if err := a.initSnapshots(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initNotifier(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStores(ctx context.Context, cfg config.Config) error {
	jobs, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:           cfg.DB.DSN,
		JobsTable:     cfg.DB.JobsTable,
		PriorityTable: cfg.DB.PriorityTable,
		MaxConns:      cfg.DB.MaxConns,
		MinConns:      cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("job store: %w", err)
	}
	a.jobStore = jobs
	a.Jobs = jobs

	results, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	a.Results = results

	batches, err := postgres.NewBatchStore(ctx, postgres.BatchStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("batch store: %w", err)
	}
	a.Batches = batches
	return nil
}

func (a *App) initSnapshots(ctx context.Context, cfg config.Config) error {
	switch cfg.Snapshots.Provider {
	case "none":
		return nil
	case "memory":
		a.Snapshots = memory.NewSnapshotStore()
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Snapshots.BaseDir})
		if err != nil {
			return fmt.Errorf("local snapshot store: %w", err)
		}
		a.Snapshots = store
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Snapshots.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs snapshot store: %w", err)
		}
		a.Snapshots = store
	default:
		return fmt.Errorf("unknown snapshots.provider %q", cfg.Snapshots.Provider)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context, cfg config.Config) error {
	if cfg.PubSub.TopicName == "" {
		a.Notifier = pubmemory.New()
		return nil
	}
	if cfg.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	a.pubsubClient = client
	pub, err := pubsub.New(client, cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher: %w", err)
	}
	a.pub = pub
	a.Notifier = pub
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.Cfg
}

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger {
	return a.Logger
}

// JobSource returns the configured job queue.
func (a *App) JobSource() scraper.JobSource {
	return a.Jobs
}

// BatchStore returns the batch progress store, or nil without a database.
func (a *App) BatchStore() scraper.BatchStore {
	if a.Batches == nil {
		return nil
	}
	return a.Batches
}

// BatchReader returns the batch read path, or nil without a database.
func (a *App) BatchReader() api.BatchReader {
	if a.Batches == nil {
		return nil
	}
	return a.Batches
}

// ResultReader returns the result read path, or nil without a database.
func (a *App) ResultReader() api.ResultReader {
	if a.Results == nil {
		return nil
	}
	return a.Results
}

// SnapshotStore returns the failed-page snapshot store, or nil when disabled.
func (a *App) SnapshotStore() scraper.SnapshotStore {
	return a.Snapshots
}

// Sink composes the result persistence path: the Postgres store plus
// the notification publisher, when each is configured.
func (a *App) Sink() scraper.ResultSink {
	var sinks scraper.MultiSink
	if a.Results != nil {
		sinks = append(sinks, a.Results)
	}
	if a.Notifier != nil {
		sinks = append(sinks, a.Notifier)
	}
	return sinks
}

// Close releases every held resource. Safe on a partially built App.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.pub != nil {
		a.pub.Close()
	}
	if a.pubsubClient != nil {
		_ = a.pubsubClient.Close()
	}
	if a.gcsClient != nil {
		_ = a.gcsClient.Close()
	}
	if a.jobStore != nil {
		a.jobStore.Close()
	}
	if a.Results != nil {
		a.Results.Close()
	}
	if a.Batches != nil {
		a.Batches.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
