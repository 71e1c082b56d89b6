package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/api"
	"github.com/JakeFAU/goodreads-search-crawler/internal/app"
	"github.com/JakeFAU/goodreads-search-crawler/internal/config"
	"github.com/JakeFAU/goodreads-search-crawler/internal/metrics"
	"github.com/JakeFAU/goodreads-search-crawler/internal/orchestrator"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress/sinks"
	"github.com/JakeFAU/goodreads-search-crawler/internal/worker"
)

const hubCloseTimeout = 10 * time.Second

// newSearchCmd creates the 'search' subcommand, the orchestrator entry point.
func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search Goodreads for every book of the input file",
		Long: `Loads the task list, splits it across worker processes and merges their
results into a single CSV. Progress is checkpointed per worker; rerun with
--resume to skip tasks an earlier run already completed.`,
		RunE: runSearchCommand,
	}
	fs := cmd.Flags()
	fs.String("input", "", "task list (.csv, .jsonl or .parquet)")
	fs.String("output", "", "merged results CSV")
	fs.Int("workers", 0, "number of worker processes")
	fs.Bool("resume", false, "skip tasks completed by a previous run")
	fs.Bool("debug", false, "stream worker logs to the terminal and dump fetched pages")
	fs.String("checkpoint-dir", "", "directory of checkpoint, sink and snapshot files")
	fs.String("log-dir", "", "directory of worker logs and debug dumps")
	fs.String("metrics-addr", "", "serve /metrics and /v1/progress on this address")
	bindFlag(fs, "input", "run.input")
	bindFlag(fs, "output", "run.output")
	bindFlag(fs, "workers", "run.workers")
	bindFlag(fs, "resume", "run.resume")
	bindFlag(fs, "debug", "run.debug")
	bindFlag(fs, "checkpoint-dir", "run.checkpoint_dir")
	bindFlag(fs, "log-dir", "run.log_dir")
	bindFlag(fs, "metrics-addr", "metrics.addr")
	return cmd
}

func runSearchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger
	if cfg.Run.Input == "" {
		return errors.New("--input is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appInstance.Connect(ctx); err != nil {
		return err
	}

	runner, err := worker.NewRunner(worker.Config{
		BaseArgs:  workerBaseArgs(appInstance.ConfigPath),
		Env:       workerEnv(cfg),
		LogDir:    cfg.Run.LogDir,
		StopGrace: cfg.StopGrace(),
		Stdout:    cmd.ErrOrStderr(),
		Stderr:    cmd.ErrOrStderr(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init worker runner: %w", err)
	}

	latest := sinks.NewLatestSink()
	hub, err := newProgressHub(appInstance, latest, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()
		httpMetrics, err := metrics.NewHTTP(appInstance.Registry)
		if err != nil {
			return err
		}
		srv := api.NewServer(api.Options{
			Latest:   latest,
			Gatherer: appInstance.Registry,
			Runs:     appInstance.RunStore(),
			Metrics:  httpMetrics,
			Logger:   logger,
		})
		if _, err := srv.Serve(serverCtx, cfg.Metrics.Addr); err != nil {
			logger.Warn("status server disabled", zap.Error(err))
		}
	}

	deps := orchestrator.Deps{Runner: runner, Emitter: hub, Logger: logger}
	if appInstance.BlobStore() != nil || appInstance.Publisher() != nil {
		deps.Publication = &orchestrator.Publication{
			Store:     appInstance.BlobStore(),
			Publisher: appInstance.Publisher(),
			Topic:     cfg.Notify.Topic,
		}
	}
	orch, err := orchestrator.New(orchestrator.Config{
		InputPath:     cfg.Run.Input,
		OutputPath:    cfg.Run.Output,
		CheckpointDir: cfg.Run.CheckpointDir,
		LogDir:        cfg.Run.LogDir,
		Workers:       cfg.Run.Workers,
		Resume:        cfg.Run.Resume,
		Debug:         cfg.Run.Debug,
		PollInterval:  cfg.PollInterval(),
		SnapshotStep:  cfg.Run.SnapshotStep,
	}, deps)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	res, runErr := orch.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}
	printSummary(cmd.OutOrStdout(), res)
	return nil
}

// newProgressHub registers the sinks the configuration enables.
func newProgressHub(a *app.App, latest *sinks.LatestSink, term io.Writer) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}
	all := []progress.Sink{sinks.NewLogSink(a.Logger), promSink, latest}
	if a.Config.Run.ShowBar && !a.Config.Run.Debug {
		all = append(all, sinks.NewBarSink(term))
	}
	if repo := a.RunStore(); repo != nil {
		all = append(all, sinks.NewStoreSink(repo, a.Logger))
	}
	return progress.NewHub(progress.Config{Logger: a.Logger.Named("progress")}, all...), nil
}

// workerBaseArgs re-enters this binary's worker subcommand with the same
// configuration file.
func workerBaseArgs(cfgPath string) []string {
	if cfgPath == "" {
		return []string{workerCmdName}
	}
	return []string{"--config", cfgPath, workerCmdName}
}

// workerEnv forwards settings that may have come from search flags.
func workerEnv(cfg config.Config) []string {
	return []string{config.EnvPrefix + "_RUN_LOG_DIR=" + cfg.Run.LogDir}
}

func printSummary(w io.Writer, res orchestrator.Result) {
	if res.NothingToDo {
		_, _ = fmt.Fprintf(w, "Nothing to do: all %d tasks already completed.\n", res.Total)
		_, _ = fmt.Fprintf(w, "Output: %s (%d rows)\n", res.Output, res.Rows)
		return
	}
	_, _ = fmt.Fprintf(w, "Run %s: %d/%d tasks completed by %d workers.\n",
		res.RunID, res.Completed, res.Total, res.Workers)
	for _, f := range res.Failed {
		_, _ = fmt.Fprintf(w, "  worker %d failed with exit code %d", f.ID, f.ExitCode)
		if f.LogPath != "" {
			_, _ = fmt.Fprintf(w, " (see %s)", f.LogPath)
		}
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "Output: %s (%d rows)\n", res.Output, res.Rows)
	if res.OutputURI != "" {
		_, _ = fmt.Fprintf(w, "Uploaded: %s\n", res.OutputURI)
	}
}
