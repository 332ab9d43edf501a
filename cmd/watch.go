package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/observability"
)

// newWatchCmd creates the `watch` command: run checks on the configured
// schedule until interrupted.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously checks all targets on the configured schedule",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("monitor.schedule", cmd.Flags().Lookup("schedule")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			eng := components.Engine
			regressions := eng.Bus().Subscribe(events.KindRegressionDetected)

			if err := eng.Start(ctx); err != nil {
				return err
			}
			logger.Info("Watching targets.",
				zap.Int("targets", len(eng.Targets())),
				zap.String("schedule", cfg.Monitor.Schedule))

			// Run one check immediately rather than waiting a full interval.
			if _, err := eng.RunCheck(ctx); err != nil {
				logger.Warn("Initial check failed.", zap.Error(err))
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Shutdown requested.")
					eng.Stop()
					return nil
				case ev, ok := <-regressions:
					if !ok {
						return nil
					}
					if payload, ok := ev.Payload.(events.RegressionDetected); ok {
						fmt.Printf("regression: %s at %s (diff %.2f%%)\n",
							payload.Target.URL, payload.Target.Viewport, payload.DiffRatio*100)
					}
				}
			}
		},
	}

	watchCmd.Flags().String("schedule", "", "Check cadence, e.g. '5m' or '@every 5m'. (Overrides config/env)")
	return watchCmd
}
