package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/session"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
	"github.com/randomizedcoder/go-wavy-control/internal/tui"
)

func newPlayCommand(cc *commandContext) *cobra.Command {
	var (
		tuiMode     string
		dumpMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "play <server-host> <client-index>",
		Short: "Play a dispatched stream with hls_client",
		Long: `Runs hls_client against server-host for the given client index and
streams its output until playback completes or wavyctl is interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dashboard, err := useDashboard(tuiMode, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			client := config.ClientConfig{ServerHost: args[0], ClientIndex: args[1]}
			if err := client.Validate(); err != nil {
				return &exitError{code: 2, err: err}
			}
			return runPlay(cmd, cc, client, dashboard, dumpMetrics)
		},
	}

	cmd.Flags().StringVar(&tuiMode, "tui", "auto", "Live dashboard: auto, on or off")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics-dump", false, "Print the final metrics in Prometheus text format")
	return cmd
}

func runPlay(cmd *cobra.Command, cc *commandContext, client config.ClientConfig, dashboard, dumpMetrics bool) error {
	cfg := cc.cfg
	logger := cc.logger(dashboard)
	out := cmd.OutOrStdout()

	rt, err := newRuntime(cfg, logger, "play")
	if err != nil {
		return err
	}
	defer rt.finish(out, dumpMetrics)

	ctrl := session.New(session.Config{
		Spawner:  rt.sup,
		Resolver: cc.resolver(),
		Emitter:  rt.events,
		Logger:   logger,
		Metrics:  rt.collector,
		History:  rt.historyRecorder(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		err := ctrl.Play(ctx, client)
		if err == nil {
			select {
			case <-ctrl.Done():
			case <-ctx.Done():
				// Stop waits for the process group to go, SIGKILL included.
				stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Stream.GracePeriod.Std()+shutdownTimeout)
				err = ctrl.Stop(stopCtx)
				stopCancel()
			}
		}
		rt.events.Close()
		done <- err
	}()

	obsErr := rt.observe(out, dashboard, tui.Config{
		Title:  "play",
		Target: client.String(),
		Stages: []string{session.StageClient},
		Stop:   cancel,
	})
	if obsErr != nil {
		cancel()
		logger.Error("dashboard_failed", "error", obsErr)
	}
	playErr := <-done

	res := ctrl.Result()
	summary := stats.SummaryConfig{
		Title:         "play",
		Outcome:       events.StateSpawnError,
		Duration:      time.Since(started),
		Spawns:        rt.collector.GenerateSummary().TotalSpawns,
		DroppedEvents: rt.events.Dropped(),
		MetricsAddr:   rt.metricsAddr(),
	}
	if res != nil {
		summary.Outcome = res.State
		summary.Duration = res.Duration
		summary.Results = []events.StageResult{*res}
	}
	fmt.Fprint(out, stats.FormatExitSummary(summary))

	return playExit(res, playErr)
}

// playExit maps the session outcome to the process exit status.
func playExit(res *events.StageResult, err error) error {
	switch {
	case res == nil:
		return &exitError{code: 2, err: err}
	case err != nil:
		return err
	case res.Succeeded(), res.State == events.StateTerminated:
		return nil
	default:
		return &exitError{code: 1, err: errors.New(res.Summary())}
	}
}
