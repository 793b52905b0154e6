package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/history"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
)

func newHistoryCommand(cc *commandContext) *cobra.Command {
	var (
		limit     int
		showStats bool
		pruneAge  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past stream and play runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cc.cfg
			if !cfg.History.Enabled {
				return errors.New("history is disabled (history.enabled = false)")
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if pruneAge > 0 {
				removed, err := store.Prune(ctx, time.Now().Add(-pruneAge))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d runs older than %s\n", removed, pruneAge)
			}

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			writeRuns(out, runs)

			if showStats {
				durations, err := store.Durations(ctx)
				if err != nil {
					return err
				}
				if durations.Len() > 0 {
					fmt.Fprintln(out)
					fmt.Fprint(out, stats.FormatStageTable(durations.Summaries()))
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Also show per-stage duration percentiles")
	cmd.Flags().DurationVar(&pruneAge, "prune", 0, "Delete runs older than this first, e.g. 720h")
	return cmd
}

// writeRuns renders runs as a table, newest first.
func writeRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Kind,
			string(r.Outcome),
			stats.FormatDuration(r.Duration),
			runSubject(r),
			stageStates(r.Stages),
			r.Error,
		})
	}
	fmt.Fprint(w, stats.RenderTable(
		[]string{"Started", "Kind", "Outcome", "Duration", "Subject", "Stages", "Error"},
		rows,
		[]bool{false, false, false, true, false, false, false},
	))
	fmt.Fprintln(w)
}

// runSubject describes what a run worked on.
func runSubject(r history.Run) string {
	if r.Kind == history.KindStream && r.Input != "" {
		return fmt.Sprintf("%s → %s", r.Input, r.Target)
	}
	return r.Target
}

// stageStates renders "Segmenter:succeeded Dispatcher:terminated".
func stageStates(stages []history.Stage) string {
	parts := make([]string, 0, len(stages))
	for _, st := range stages {
		parts = append(parts, st.Name+":"+string(st.State))
	}
	return strings.Join(parts, " ")
}
