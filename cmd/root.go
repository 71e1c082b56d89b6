// Package cmd defines and implements the CLI commands of the grsearch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/app"
	"github.com/JakeFAU/goodreads-search-crawler/internal/config"
	"github.com/JakeFAU/goodreads-search-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// viperKeyAnnotation marks a flag that overrides a configuration key.
const viperKeyAnnotation = "viper_key"

// newApp is the application factory. It is a variable so tests can inject
// their own configuration.
var newApp = func(cmd *cobra.Command, v *viper.Viper, cfgPath string) (*app.App, error) {
	cfg, err := config.LoadWith(v, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	a := app.New(cfg, logger)
	a.ConfigPath = cfgPath
	return a, nil
}

// newLogger builds the worker logger for the worker subcommand and the
// configured logger for everything else.
func newLogger(cmd *cobra.Command, cfg config.Config) (*zap.Logger, error) {
	if cmd.Name() == workerCmdName {
		id, _ := cmd.Flags().GetInt("id")
		debug, _ := cmd.Flags().GetBool("debug")
		logger, err := logging.NewWorker(id, debug)
		if err != nil {
			return nil, fmt.Errorf("init worker logger: %w", err)
		}
		return logger, nil
	}
	logger, err := logging.New(cfg.Logging.Development || cfg.Run.Debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "grsearch",
		Short: "Search Goodreads for every book of a task list.",
		Long: `grsearch looks up every book of a CSV, JSON lines or Parquet task list on
Goodreads and extracts its description, genres and publication year. The
work is split across isolated worker processes whose progress is
checkpointed, so an interrupted run resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application once flags are parsed and before RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindAnnotatedFlags(v, cmd.Flags()); err != nil {
				return err
			}
			appInstance, err := newApp(cmd, v, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// bindFlag marks a flag as an override of a configuration key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

// bindAnnotatedFlags binds the executing command's annotated flags, so only
// that command's flags override the configuration.
func bindAnnotatedFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || err != nil {
			return
		}
		if bindErr := v.BindPFlag(keys[0], f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
