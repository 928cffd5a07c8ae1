package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jammwork/jammwork-sub000/internal/config"
	relayerrors "github.com/jammwork/jammwork-sub000/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		relayerrors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Real-time collaboration relay",
		Long: `relay hosts shared documents for real-time collaboration.

Clients connect over WebSocket to /ws/{room}, exchange document updates
and presence, and the relay keeps each room resident while it is in use
and persists it to the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (default: relay.yaml, relay.yml or relay.json in the working directory)")
	pf.StringSliceVar(&flags.envFiles, "env-file", nil, "Files of KEY=VALUE pairs to load before reading RELAY_* variables (default: .env)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		serveCmd(flags),
		roomsCmd(flags),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig resolves configuration from files, environment and flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, err
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(wd, flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	return cfg, nil
}
