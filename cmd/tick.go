package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and exit",
		Long:  "Runs due jobs, the retry sweep and the retention purge once. Meant for an external cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(loadConfig())
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer a.close()

			result, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}

			if len(result.Errors) > 0 {
				return fmt.Errorf("scheduler pass finished with %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
}
