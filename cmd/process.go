package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/clock/system"
	"github.com/tributolabs/iptu-scraper/internal/config"
	"github.com/tributolabs/iptu-scraper/internal/driver"
	"github.com/tributolabs/iptu-scraper/internal/extract"
	"github.com/tributolabs/iptu-scraper/internal/id/uuid"
	"github.com/tributolabs/iptu-scraper/internal/progress"
	"github.com/tributolabs/iptu-scraper/internal/progress/sinks"
	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// newProcessCmd creates the 'process' subcommand, the main batch run:
// claim pending jobs, dispatch them over the session pool, and persist
// results and batch progress.
func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Claims pending jobs and scrapes them as one batch",
		Long: `Claims up to --limit pending contributor numbers (priority queue first),
assigns them a batch ID, and processes them in concurrency-sized chunks
with human-like pacing. The run blocks until the batch completes or the
process receives SIGINT/SIGTERM.`,

		RunE: runProcessCommand,
	}

	cmd.Flags().Int("limit", 10, "maximum number of jobs to claim")
	cmd.Flags().Int("concurrency", 0, "override scraper.concurrency")
	cmd.Flags().Int("rate-limit", -1, "override scraper.rate_limit_per_hour (0 disables the cap)")
	cmd.Flags().Bool("headless", true, "override scraper.headless")

	return cmd
}

func runProcessCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	cfg, err := processConfig(cmd, appInstance.Config())
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, err := appInstance.JobSource().ClaimPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		logger.Info("no pending jobs, nothing to do")
		return nil
	}

	batchID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate batch id: %w", err)
	}
	for i := range jobs {
		jobs[i].BatchID = batchID
	}

	pool := driver.NewPool(driver.Config{
		Size:         cfg.Scraper.Concurrency,
		Headless:     cfg.Scraper.Headless,
		WindowWidth:  cfg.Scraper.WindowWidthFlag,
		WindowHeight: cfg.Scraper.WindowHeightFlag,
	}, logger)
	defer pool.Shutdown(context.Background())
	if err := pool.Warmup(ctx); err != nil {
		return err
	}

	pacer := scraper.NewPacer(rand.NewSource(time.Now().UnixNano()))
	extractor := extract.New(extract.Config{
		TargetURL:   cfg.Scraper.TargetURL,
		PageTimeout: cfg.PageTimeout(),
		ResultWait:  cfg.ResultWait(),
	}, pacer, logger)

	hub, err := buildProgressHub(appInstance, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	tracker := scraper.NewFailureTracker(scraper.TrackerConfig{
		Window:    cfg.FailureWindow(),
		Threshold: cfg.Failure.Threshold,
		Cooldown:  cfg.CooldownDuration(),
	})

	engine, err := scraper.NewEngine(scraper.EngineConfig{
		Concurrency:         cfg.Scraper.Concurrency,
		RateLimitPerHour:    cfg.Scraper.RateLimitPerHour,
		WorkerID:            cfg.Scraper.WorkerID,
		CooldownNotifyEvery: cfg.NotifyInterval(),
		ChunkDelayMin:       time.Duration(cfg.Scraper.ChunkDelayMinMs) * time.Millisecond,
		ChunkDelayMax:       time.Duration(cfg.Scraper.ChunkDelayMaxMs) * time.Millisecond,
		SnapshotOnFailure:   cfg.Scraper.SnapshotOnFailure,
	}, scraper.Deps{
		Pool:      pool,
		Extractor: extractor,
		Source:    appInstance.JobSource(),
		Sink:      appInstance.Sink(),
		Batches:   appInstance.BatchStore(),
		Snapshots: appInstance.SnapshotStore(),
		Tracker:   tracker,
		Pacer:     pacer,
		Clock:     system.New(),
		Emitter:   hub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	stats, err := engine.ProcessBatch(ctx, batchID, jobs)
	logger.Info("batch summary",
		zap.String("batch_id", batchID),
		zap.Int("total", stats.Total),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Elapsed))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("process batch: %w", err)
	}
	return nil
}

// processConfig layers the command flags over the loaded configuration.
func processConfig(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	if cmd.Flags().Changed("concurrency") {
		v, err := cmd.Flags().GetInt("concurrency")
		if err != nil {
			return cfg, err
		}
		cfg.Scraper.Concurrency = v
	}
	if cmd.Flags().Changed("rate-limit") {
		v, err := cmd.Flags().GetInt("rate-limit")
		if err != nil {
			return cfg, err
		}
		cfg.Scraper.RateLimitPerHour = v
	}
	if cmd.Flags().Changed("headless") {
		v, err := cmd.Flags().GetBool("headless")
		if err != nil {
			return cfg, err
		}
		cfg.Scraper.Headless = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildProgressHub(appInstance App, logger *zap.Logger) (*progress.Hub, error) {
	hubSinks := []progress.Sink{sinks.NewLogSink(logger)}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus progress sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)

	if store := appInstance.BatchStore(); store != nil {
		storeSink, err := sinks.NewStoreSink(store)
		if err != nil {
			return nil, fmt.Errorf("batch store sink: %w", err)
		}
		hubSinks = append(hubSinks, storeSink)
	}

	return progress.NewHub(progress.Config{Logger: logger}, hubSinks...), nil
}
