package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"roombot/internal/app"
	"roombot/pkg/systemd"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the room and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			_, _ = systemd.Ready()

			wctx, wcancel := context.WithCancel(ctx)
			defer wcancel()
			go func() { _ = systemd.Watchdog(wctx, func() bool { return a.Err() == nil }) }()

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			wcancel()
			_, _ = systemd.Stopping()

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.Stop(sctx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}
