package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vigildev/vigil/internal/observability"
	"github.com/vigildev/vigil/internal/snapshot"
)

// ErrRegressionsFound is returned by `check` when at least one target
// exceeded its diff threshold. main maps it to a distinct exit code so CI
// pipelines can gate on it.
var ErrRegressionsFound = errors.New("visual regressions detected")

// newCheckCmd creates the `check` command: a single check cycle over all
// targets, suitable for CI.
func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Runs one check cycle over all targets and exits",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("monitor.threshold", cmd.Flags().Lookup("threshold")); err != nil {
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

			results, err := components.Engine.RunCheck(ctx)
			if err != nil {
				return err
			}

			var alerts, failures int
			for _, r := range results {
				switch r.Status {
				case snapshot.StatusAlert:
					alerts++
					fmt.Printf("ALERT  %s at %s: diff %.2f%% (%s)\n",
						r.Target.URL, r.Target.Viewport, r.DiffRatio*100, r.DiffImageRef)
				case snapshot.StatusFailed:
					failures++
					fmt.Printf("FAILED %s at %s: %s\n", r.Target.URL, r.Target.Viewport, r.Error)
				case snapshot.StatusNewBaseline:
					fmt.Printf("NEW    %s at %s: baseline created\n", r.Target.URL, r.Target.Viewport)
				default:
					fmt.Printf("OK     %s at %s: diff %.2f%%\n", r.Target.URL, r.Target.Viewport, r.DiffRatio*100)
				}
			}
			fmt.Printf("\n%d targets checked: %d alerts, %d failures\n", len(results), alerts, failures)

			if alerts > 0 {
				return ErrRegressionsFound
			}
			return nil
		},
	}

	checkCmd.Flags().Float64P("threshold", "t", 0, "Diff ratio alert threshold. (Overrides config/env)")
	return checkCmd
}
