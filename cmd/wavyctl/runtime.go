package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/history"
	"github.com/randomizedcoder/go-wavy-control/internal/metrics"
	"github.com/randomizedcoder/go-wavy-control/internal/supervisor"
	"github.com/randomizedcoder/go-wavy-control/internal/tui"
)

const shutdownTimeout = 5 * time.Second

// recorder is what the orchestrator and session need from the history
// store.
type recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// runtime is the wiring shared by stream and play: one event channel,
// one supervisor, a private metrics registry and the optional history
// store and metrics server.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	server    *metrics.Server
	store     *history.Store

	events *events.Channel
	sup    *supervisor.Supervisor
}

func newRuntime(cfg *config.Config, logger *slog.Logger, command string) (*runtime, error) {
	r := &runtime{cfg: cfg, logger: logger}

	r.registry = prometheus.NewRegistry()
	r.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: version,
		Command: command,
	}, r.registry)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		r.server = metrics.NewServer(addr, r.registry, logger)
		if err := r.server.Start(); err != nil {
			return nil, err
		}
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			// A broken history database must not block streaming.
			logger.Warn("history_unavailable", "path", cfg.History.Path, "error", err)
		} else {
			r.store = store
		}
	}

	r.events = events.NewChannel(cfg.Events.Buffer)
	r.events.OnDrop(r.collector.EventDropped)

	r.sup = supervisor.New(supervisor.Config{
		Emitter:     r.events,
		Logger:      logger,
		GracePeriod: cfg.Stream.GracePeriod.Std(),
		TailLines:   cfg.Stream.TailLines,
		Callbacks: supervisor.Callbacks{
			OnStart: r.processStarted,
			OnExit:  r.processExited,
		},
	})
	return r, nil
}

func (r *runtime) processStarted(stage string, pid int) {
	r.collector.ProcessStarted(stage, pid)
	if r.server != nil {
		r.server.StageStarted(stage)
	}
}

func (r *runtime) processExited(stage string, state supervisor.State, exitCode int, uptime time.Duration) {
	r.collector.ProcessExited(stage, state, exitCode, uptime)
	if r.server != nil {
		r.server.StageExited(stage)
	}
}

// historyRecorder returns the store, or a nil interface without one so the
// callers' nil checks hold.
func (r *runtime) historyRecorder() recorder {
	if r.store == nil {
		return nil
	}
	return r.store
}

// metricsAddr returns the bound metrics address, or "" when disabled.
func (r *runtime) metricsAddr() string {
	if r.server == nil {
		return ""
	}
	return r.server.Addr()
}

// observe shows events until the channel is closed and drained.
func (r *runtime) observe(out io.Writer, dashboard bool, tcfg tui.Config) error {
	if !dashboard {
		printEvents(out, r.events)
		return nil
	}
	tcfg.Source = r.events
	tcfg.MetricsAddr = r.metricsAddr()
	err := tui.Run(tcfg)
	// Drain whatever the dashboard left so producers never stall.
	for {
		if _, err := r.events.Next(context.Background()); err != nil {
			break
		}
	}
	return err
}

// finish dumps metrics if asked and releases everything.
func (r *runtime) finish(out io.Writer, dumpMetrics bool) {
	if dumpMetrics {
		fmt.Fprintln(out)
		if err := metrics.WriteText(out, r.registry); err != nil {
			r.logger.Warn("metrics_dump_failed", "error", err)
		}
	}

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			r.logger.Warn("metrics_server_shutdown_failed", "error", err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("history_close_failed", "error", err)
		}
	}
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f any) bool {
	file, ok := f.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// useDashboard resolves --tui: "auto" picks the dashboard only when both
// stdin and stdout are terminals.
func useDashboard(mode string, stdin io.Reader, stdout io.Writer) (bool, error) {
	switch mode {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	case "", "auto":
		return isTerminal(stdin) && isTerminal(stdout), nil
	default:
		return false, fmt.Errorf("--tui must be auto, on or off (got %q)", mode)
	}
}
