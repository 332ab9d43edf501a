package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vigildev/vigil/internal/engine"
	"github.com/vigildev/vigil/internal/observability"
)

// newBaselineCmd creates the `baseline` command group with its `create` and
// `accept` subcommands.
func newBaselineCmd() *cobra.Command {
	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manages stored baselines",
	}

	baselineCmd.AddCommand(newBaselineRunCmd(
		"create",
		"Captures fresh baselines for the matching targets",
	))
	baselineCmd.AddCommand(newBaselineRunCmd(
		"accept",
		"Accepts the current look of the matching targets as the new baseline",
	))
	return baselineCmd
}

// newBaselineRunCmd builds one baseline subcommand. Create and accept share
// the capture-and-promote mechanics; they differ in intent, not behavior.
func newBaselineRunCmd(use, short string) *cobra.Command {
	var (
		url      string
		viewport string
		selector string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
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

			filter := engine.TargetFilter{URL: url, Viewport: viewport, Selector: selector}
			count, err := components.Engine.AcceptBaseline(ctx, filter)
			if count > 0 {
				fmt.Printf("%d baseline(s) written\n", count)
			}
			if err != nil {
				return fmt.Errorf("baseline %s finished with errors: %w", use, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Only targets with this exact URL")
	cmd.Flags().StringVar(&viewport, "viewport", "", "Only targets with this viewport name")
	cmd.Flags().StringVar(&selector, "selector", "", "Only targets with this CSS selector")
	return cmd
}
