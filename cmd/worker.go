package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/checkpoint"
	"github.com/JakeFAU/goodreads-search-crawler/internal/clock/system"
	"github.com/JakeFAU/goodreads-search-crawler/internal/config"
	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/executor"
	collyfetcher "github.com/JakeFAU/goodreads-search-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/goodreads-search-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/goodreads-search-crawler/internal/hash/sha256"
	"github.com/JakeFAU/goodreads-search-crawler/internal/headless/detector"
	"github.com/JakeFAU/goodreads-search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/goodreads-search-crawler/internal/results"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/local"
	"github.com/JakeFAU/goodreads-search-crawler/internal/tasks"
	"github.com/JakeFAU/goodreads-search-crawler/internal/worker"
)

const workerCmdName = "worker"

// newWorkerCmd creates the hidden 'worker' subcommand the orchestrator
// starts once per partition.
func newWorkerCmd() *cobra.Command {
	var assignment worker.Assignment
	cmd := &cobra.Command{
		Use:    workerCmdName,
		Short:  "Run one partition of a search (started by search)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkerCommand(cmd, assignment)
		},
	}
	worker.BindFlags(cmd.Flags(), &assignment)
	return cmd
}

func runWorkerCommand(cmd *cobra.Command, a worker.Assignment) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid worker assignment: %w", err)
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger
	cfg := appInstance.Config

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	part, err := tasks.ReadPartition(a.TasksPath)
	if err != nil {
		return fmt.Errorf("read partition: %w", err)
	}
	exec, closeExec, err := buildExecutor(cfg, a, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	rows, err := results.OpenWriter(a.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	markers, err := checkpoint.OpenFile(a.CheckpointPath)
	if err != nil {
		return err
	}
	defer func() { _ = markers.Close() }()

	logger.Info("worker started", zap.Int("tasks", len(part)))
	stats, err := executor.RunPartition(ctx, exec, part, rows, markers, executor.Options{
		Concurrency: cfg.Executor.Concurrency,
		Logger:      logger,
	})
	logger.Info("worker finished",
		zap.Int("found", stats.Found),
		zap.Int("not_found", stats.NotFound),
		zap.Int("failed", stats.Failed),
		zap.Int("unavailable", stats.Unavailable),
		zap.Error(err),
	)
	return err
}

// buildExecutor assembles the Goodreads executor of one worker process.
func buildExecutor(cfg config.Config, a worker.Assignment, logger *zap.Logger) (executor.Executor, func(), error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Timeout:        cfg.FetchTimeout(),
	})
	base, maxBackoff := cfg.Backoff()
	opts := []executor.Option{
		executor.WithBaseURL(cfg.Fetch.BaseURL),
		executor.WithRetryPolicy(crawler.NewRetryPolicy(cfg.Executor.MaxRetries+1, base, maxBackoff)),
		executor.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Executor.RatePerSecond,
			DefaultBurst: cfg.Executor.Burst,
			OnDelay: func(host string, waited time.Duration) {
				logger.Debug("rate limited", zap.String("host", host), zap.Duration("waited", waited))
			},
		})),
		executor.WithLogger(logger),
	}

	closeFn := func() {}
	if cfg.Fetch.Headless {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Fetch.HeadlessParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			WaitSelector:      headlessfetcher.NextDataSelector,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			closeFn = renderer.Close
			opts = append(opts, executor.WithRenderer(renderer, detector.NewHeuristic(cfg.Fetch.RenderThreshold)))
		}
	}
	if a.Debug {
		dir := filepath.Join(cfg.Run.LogDir, fmt.Sprintf("debug_responses_worker_%d", a.ID))
		store, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("init debug dumps: %w", err)
		}
		opts = append(opts, executor.WithDumper(executor.NewDumper(store, sha256.New(), system.New())))
	}
	return executor.NewGoodreads(fetcher, opts...), closeFn, nil
}
