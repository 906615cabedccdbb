// Package cli is the roombot command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"roombot/internal/config"
)

// Version is set at build time with -ldflags "-X roombot/internal/cli.Version=...".
var Version = "dev"

func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

func NewRootCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	rootCmd := &cobra.Command{
		Use:           "roombot",
		Short:         "Chat-room bot: countdowns, announcements and room commands",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to the config file (json, yaml or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with ROOMBOT_* overrides; skipped when missing")

	rootCmd.AddCommand(
		newRunCmd(&cfgPath),
		newCheckCmd(&cfgPath),
		newVersionCmd(),
	)
	return rootCmd
}
