// Package cmd holds the harvestctl commands. They run the extraction
// pipeline in-process, configured from the same HARVEST_* environment as
// the server.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/app"
	"github.com/use-agent/harvest/config"
)

var (
	logLevel  string
	noBrowser bool
	pretty    bool
)

var rootCmd = &cobra.Command{
	Use:           "harvestctl",
	Short:         "Fetch pages and extract structured data from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override HARVEST_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "disable the headless browser path")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "indent JSON output")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies global flags. Logs go to
// stderr so stdout stays machine-readable.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if noBrowser {
		cfg.Browser.Enabled = false
	}
	// Sessions are launched on demand for one-shot commands.
	cfg.Browser.Prewarm = false
	cfg.Log.Format = "text"
	app.InitLogger(cfg.Log, os.Stderr)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp builds the stack for one command invocation and tears it down
// afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.Debug("harvestctl: stack ready", "browser", a.Fetcher.HasBrowser())
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
