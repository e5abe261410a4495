// Package cmd defines and implements the CLI commands of the harvester.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/app"
	"github.com/Evian-Zhang/udiab/internal/config"
	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Harvest(ctx context.Context, source string) (crawler.StatsSnapshot, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, configPath string) (App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command. The returned func
// closes the application if one was built; cobra skips post-run hooks when a
// command fails, so callers must defer it.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   App
	)
	cmd := &cobra.Command{
		Use:   "udiab",
		Short: "Harvests programming articles from Chinese blog platforms.",
		Long: `udiab crawls the listing pages of CnBlog, CSDN and JianShu through a
rotating proxy, extracts every article they link to, and appends one JSON
object per article to <Source>.txt in the output directory.`,
		SilenceUsage: true,

		// Build the application once the flags are parsed and hand it to the
		// subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./config.*, /etc/udiab/, $HOME/.udiab)")

	for _, c := range newHarvestCmds() {
		cmd.AddCommand(c)
	}
	closeApp := func() {
		if built != nil {
			built.Close()
			built = nil
		}
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		return 1
	}
	return 0
}

func run(ctx context.Context, args []string) error {
	root, closeApp := newRootCmd()
	defer closeApp()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}
