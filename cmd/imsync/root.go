package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"im-sync/internal/backend"
	"im-sync/internal/config"
	"im-sync/internal/obs"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "imsync",
	Short:         "Terminal chat client for the im backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the backend base URL the client would use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		base := backend.NewResolver(cfg.Backend, logger).Resolve(cmd.Context())
		ws, err := backend.WebSocketURL(base, cfg.Backend.WebSocketPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base)
		fmt.Fprintln(cmd.OutOrStdout(), ws)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config/config.yaml)")
	rootCmd.AddCommand(runCmd, resolveCmd)
}

// setup loads the configuration and builds the logger. Logs go to stderr so
// they do not interleave with the chat on stdout.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return cfg, logger, nil
}
