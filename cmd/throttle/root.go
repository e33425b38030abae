package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/config"
)

// defaultConfigFile is used when --config is not given. Unlike an explicit
// path, it may be absent.
const defaultConfigFile = "config.yaml"

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Throttle - distributed dual-window rate-limiting gateway",
	Long: `Throttle admits HTTP requests against a burst window and a sustained
window per caller and endpoint class, and forwards admitted requests to a
backend.

Window state is shared through Redis, so limits hold across every gateway
instance. When the store is unreachable the gateway fails open and keeps
serving.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !cli.Silent(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads .env files, then the config file with THROTTLE_*
// overrides. A missing default config file falls back to defaults plus
// environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}

	if cfgFile == defaultConfigFile {
		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return nil, cli.NewConfigError("", err.Error())
			}
			return cfg, nil
		}
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// stdout returns the command's output writer. Tests call command functions
// with a nil command.
func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
