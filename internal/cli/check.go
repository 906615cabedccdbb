package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"roombot/internal/app"
)

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.CheckConfig(cmd.Context(), *cfgPath)
			if err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}
			driver := strings.TrimSpace(cfg.Transport.Driver)
			if driver == "" {
				driver = "stumble"
			}
			store := strings.TrimSpace(cfg.Storage.Driver)
			if store == "" {
				store = "none"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s (transport=%s storage=%s)\n", *cfgPath, driver, store)
			return err
		},
	}
}
