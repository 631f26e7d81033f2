// Package cli is the ecoctl command line: an interactive shell over one client
// session, the web shell server and version info.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ecodispose/client/internal/app"
	"ecodispose/client/internal/config"
	"ecodispose/client/internal/logging"
)

var (
	cfgFile  string
	apiURL   string
	logLevel string
)

// Execute is the entry point called from cmd/ecoctl.
func Execute(version, commit string) {
	rootCmd := &cobra.Command{
		Use:           "ecoctl",
		Short:         "Eco-Dispose client",
		Long:          "ecoctl keeps an authenticated Eco-Dispose session and mirrors its device inventory.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $ECO_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "override api.base_url")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies flag overrides on top of config.Load.
func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("ECO_CONFIG_FILE", cfgFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openApp builds the logger and the App. The returned func releases both.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, closer, err := logging.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		closer.Close()
	}, nil
}

func newVersionCmd(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ecoctl version %s (commit: %s)\n", version, commit)
		},
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
