package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/orchestrator"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
	"github.com/randomizedcoder/go-wavy-control/internal/tui"
)

func newStreamCommand(cc *commandContext) *cobra.Command {
	var (
		yes         bool
		tuiMode     string
		dumpMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "stream <input> <output-dir> <server-url>",
		Short: "Segment an audio file and dispatch the playlist to a server",
		Long: `Runs hls_segmenter on the input, writing the playlist and segments into
output-dir, then runs hls_dispatcher to upload them to server-url
(host:port, optionally with an http:// or https:// scheme). The
dispatcher runs until it exits or wavyctl is interrupted.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dashboard, err := useDashboard(tuiMode, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			req := config.StreamRequest{
				Input:     args[0],
				OutputDir: args[1],
				ServerURL: args[2],
			}
			req.ConfirmClear, err = resolveClear(yes, cmd.InOrStdin(), cmd.ErrOrStderr(), req.OutputDir)
			if err != nil {
				return err
			}

			return runStream(cmd, cc, req, dashboard, dumpMetrics)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete the contents of a non-empty output directory without asking")
	cmd.Flags().StringVar(&tuiMode, "tui", "auto", "Live dashboard: auto, on or off")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics-dump", false, "Print the final metrics in Prometheus text format")
	return cmd
}

func runStream(cmd *cobra.Command, cc *commandContext, req config.StreamRequest, dashboard, dumpMetrics bool) error {
	cfg := cc.cfg
	logger := cc.logger(dashboard)
	out := cmd.OutOrStdout()

	rt, err := newRuntime(cfg, logger, "stream")
	if err != nil {
		return err
	}
	defer rt.finish(out, dumpMetrics)

	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Spawner:  rt.sup,
		Resolver: cc.resolver(),
		Emitter:  rt.events,
		Logger:   logger,
		Manifest: cfg.Stream.Manifest,
		Metrics:  rt.collector,
		History:  rt.historyRecorder(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("stream_starting",
		"version", version,
		"input", req.Input,
		"output_dir", req.OutputDir,
		"server", req.ServerURL,
		"metrics_addr", rt.metricsAddr(),
	)

	done := make(chan orchestrator.Result, 1)
	go func() {
		res := runner.Stream(ctx, req)
		rt.events.Close()
		done <- res
	}()

	obsErr := rt.observe(out, dashboard, tui.Config{
		Title:  "stream",
		Target: fmt.Sprintf("%s → %s", filepath.Base(req.Input), req.ServerURL),
		Stages: []string{orchestrator.StageSegmenter, orchestrator.StageDispatcher},
		Stop:   cancel,
	})
	if obsErr != nil {
		// Without an observer there is no way to stop the run.
		cancel()
		logger.Error("dashboard_failed", "error", obsErr)
	}
	res := <-done

	run := rt.collector.GenerateSummary()
	fmt.Fprint(out, stats.FormatExitSummary(stats.SummaryConfig{
		Title:         "stream",
		Outcome:       res.Outcome,
		Duration:      res.Duration,
		Results:       res.Stages,
		Spawns:        run.TotalSpawns,
		Segments:      run.Segments,
		DroppedEvents: rt.events.Dropped(),
		MetricsAddr:   rt.metricsAddr(),
	}))

	return streamExit(res)
}

// streamExit maps the pipeline outcome to the process exit status. A run
// stopped by the user is not an error.
func streamExit(res orchestrator.Result) error {
	switch {
	case res.Success():
		return nil
	case res.Outcome == events.StateTerminated:
		return nil
	case len(res.Stages) == 0:
		// Setup failures never reached a stage; report the cause itself.
		return &exitError{code: 2, err: res.Err}
	default:
		return &exitError{code: 1, err: res.Err}
	}
}
