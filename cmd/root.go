// Package cmd defines and implements the CLI commands for the iptu-scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/api"
	"github.com/tributolabs/iptu-scraper/internal/app"
	"github.com/tributolabs/iptu-scraper/internal/config"
	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application container the commands use.
// Commands resolve it from the context, which lets tests inject a fake.
type App interface {
	Close()
	Config() config.Config
	GetLogger() *zap.Logger
	JobSource() scraper.JobSource
	BatchStore() scraper.BatchStore
	BatchReader() api.BatchReader
	ResultReader() api.ResultReader
	SnapshotStore() scraper.SnapshotStore
	Sink() scraper.ResultSink
}

// newApp is the application factory, a variable so tests can swap in
// a fake container.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iptu-scraper",
		Short: "Batch scraper for the São Paulo IPTU lookup service.",
		Long: `iptu-scraper claims pending contributor numbers from the job queue and
drives pooled browser sessions through the municipal IPTU lookup form,
persisting the extracted property records and batch progress.`,

		SilenceUsage: true,

		// Build the application after flags parse and hand it to the
		// subcommands through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to environment variables only)")

	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newResultsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() error {
	return newRootCmd().Execute()
}
