package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/preflight"
)

func newCheckCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the project root, executables and system limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cc.cfg
			opts := preflight.Options{
				Locator:     cc.resolver(),
				MetricsAddr: cfg.Observability.MetricsAddr,
			}
			if cfg.History.Enabled {
				opts.HistoryPath = cfg.History.Path
			}

			result := preflight.RunAll(opts)
			preflight.PrintResults(cmd.OutOrStdout(), result)
			if !result.Passed {
				return &exitError{code: 1, err: errors.New("preflight checks failed")}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
			return nil
		},
	}
}
