// Package cli is the site-scanner command surface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielnaab/site-scanning-engine/internal/app"
)

// rootOptions are the persistent flags every command shares.
type rootOptions struct {
	configPath string
	logLevel   string
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func (o *rootOptions) loadConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(o.logLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// withApp builds the Application, runs fn and closes it.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app.Application) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// NewRootCommand assembles the command tree. It reads no process state, so
// tests can drive it with SetArgs.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "site-scanner",
		Short: "Scan federal websites and store what they run",
		Long: `site-scanner checks federal websites for liveness, robots.txt, sitemaps,
page metadata, analytics and USWDS adoption, and stores one result per scan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (YAML); SITESCAN_* environment variables override it")
	root.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newScanCommand(opts),
		newServeCommand(opts),
		newWorkerCommand(opts),
		newIngestCommand(opts),
		newQueueScansCommand(opts),
		newClearQueueCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the root command until it returns or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
