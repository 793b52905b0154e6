package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/outdir"
)

func newClearCommand(cc *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear <dir>",
		Short: "Delete the contents of an output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			out := cmd.OutOrStdout()

			empty, err := config.ValidateOutputDir(dir)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if empty {
				fmt.Fprintf(out, "%s is already empty\n", dir)
				return nil
			}

			ok, err := resolveClear(yes, cmd.InOrStdin(), cmd.ErrOrStderr(), dir)
			if err != nil {
				return err
			}
			if !ok {
				return &exitError{code: 1, err: errors.New("clear declined")}
			}

			lock, err := outdir.Acquire(dir)
			if err != nil {
				return err
			}
			defer lock.Release()

			failures, err := outdir.Clear(dir, events.EmitterFunc(func(ev events.Event) {
				if line, ok := formatEvent(ev); ok {
					fmt.Fprintln(out, line)
				}
			}))
			if err != nil {
				return err
			}
			if failures > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d entries in %s could not be deleted", failures, dir)}
			}
			fmt.Fprintf(out, "Cleared %s\n", dir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
