package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labexec/internal/events"
	"labexec/internal/observability"
	"labexec/pkg/domain"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow execution change events",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "Print events from the configured redis channel as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			evOpts := cfg.EventOptions()
			if evOpts.Driver != events.DriverRedis {
				return fmt.Errorf("events tail needs the redis event driver, configured %q", evOpts.Driver)
			}
			logger, err := observability.NewLogger(cfg.Logging.Mode)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			bus, err := events.Open(ctx, evOpts, logger)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := bus.StartForwarder(ctx, func(ev domain.ExecutionEvent) {
				_ = enc.Encode(ev)
			}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	})
	return cmd
}
