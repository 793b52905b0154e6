// Package metrics provides Prometheus metrics for wavyctl.
//
// Every Collector owns its metric vectors, so several collectors (one per
// test, say) can live in one process as long as each gets its own registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
)

// Namespace prefixes every metric name.
const Namespace = "wavy"

// uptimeBuckets covers both the seconds-long segmenter and a dispatcher or
// client that runs for hours.
var uptimeBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600, 14400}

// Collector manages all Prometheus metrics for one wavyctl invocation.
type Collector struct {
	// --- Overview ---
	info   *prometheus.GaugeVec
	active prometheus.Gauge

	// --- Processes ---
	spawns      *prometheus.CounterVec
	spawnErrors *prometheus.CounterVec
	exits       *prometheus.CounterVec
	exitKinds   *prometheus.CounterVec
	uptime      *prometheus.HistogramVec

	// --- Runs ---
	pipelines *prometheus.CounterVec
	sessions  *prometheus.CounterVec

	// --- Observer / progress ---
	droppedEvents prometheus.Counter
	segments      prometheus.Counter

	startTime time.Time
	durations *stats.Durations

	mu           sync.Mutex
	activeCount  int
	peakActive   int
	totalSpawns  int64
	totalErrors  int64
	exitCodes    map[int]int64
	segmentCount int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string

	// Command is the subcommand being run ("stream", "play").
	Command string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Information about the running wavyctl (value always 1)",
		}, []string{"version", "command"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_processes",
			Help:      "Currently running child processes",
		}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_spawns_total",
			Help:      "Child processes started, by stage",
		}, []string{"stage"}),
		spawnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_spawn_errors_total",
			Help:      "Child processes that could not be started, by stage",
		}, []string{"stage"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_exits_total",
			Help:      "Child process exits, by stage and terminal state",
		}, []string{"stage", "state"}),
		exitKinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_exit_categories_total",
			Help:      "Child process exits by exit code category (success, error, signal)",
		}, []string{"category"}),
		uptime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "process_uptime_seconds",
			Help:      "Child process run time distribution",
			Buckets:   uptimeBuckets,
		}, []string{"stage"}),
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipelines_total",
			Help:      "Streaming pipeline runs, by outcome",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Playback sessions ended, by exit code category",
		}, []string{"category"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "status_events_dropped_total",
			Help:      "Status messages dropped because the observer fell behind",
		}),
		segments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "segments_written_total",
			Help:      "Segment files written by the segmenter",
		}),
		startTime: time.Now(),
		durations: stats.NewDurations(),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.active,
		c.spawns,
		c.spawnErrors,
		c.exits,
		c.exitKinds,
		c.uptime,
		c.pipelines,
		c.sessions,
		c.droppedEvents,
		c.segments,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Command).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ProcessStarted records a child process start. Its signature matches
// supervisor.Callbacks.OnStart.
func (c *Collector) ProcessStarted(stage string, _ int) {
	c.spawns.WithLabelValues(stage).Inc()
	c.active.Inc()

	c.mu.Lock()
	c.totalSpawns++
	c.activeCount++
	if c.activeCount > c.peakActive {
		c.peakActive = c.activeCount
	}
	c.mu.Unlock()
}

// ProcessExited records a child process exit. Its signature matches
// supervisor.Callbacks.OnExit.
func (c *Collector) ProcessExited(stage string, state events.State, exitCode int, uptime time.Duration) {
	c.exits.WithLabelValues(stage, string(state)).Inc()
	c.exitKinds.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.uptime.WithLabelValues(stage).Observe(uptime.Seconds())
	c.active.Dec()
	c.durations.Add(stage, state, uptime)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	if c.activeCount > 0 {
		c.activeCount--
	}
	c.mu.Unlock()
}

// SpawnFailed records a process that never started.
func (c *Collector) SpawnFailed(stage string) {
	c.spawnErrors.WithLabelValues(stage).Inc()
	c.durations.Add(stage, events.StateSpawnError, 0)

	c.mu.Lock()
	c.totalErrors++
	c.mu.Unlock()
}

// PipelineCompleted records the outcome of a streaming pipeline.
func (c *Collector) PipelineCompleted(outcome events.State) {
	c.pipelines.WithLabelValues(string(outcome)).Inc()
}

// SessionEnded records the end of a playback session. A nil exitCode means
// the client never started.
func (c *Collector) SessionEnded(exitCode *int) {
	category := "spawn_error"
	if exitCode != nil {
		category = ExitCategory(*exitCode)
	}
	c.sessions.WithLabelValues(category).Inc()
}

// EventDropped records one status message dropped by the event channel.
// Its signature matches events.Channel.OnDrop.
func (c *Collector) EventDropped(events.Event) {
	c.droppedEvents.Inc()
}

// SegmentWritten records one new segment file.
func (c *Collector) SegmentWritten(string) {
	c.segments.Inc()

	c.mu.Lock()
	c.segmentCount++
	c.mu.Unlock()
}

// ExitCategory buckets an exit code the way the exit counters label it.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration    time.Duration
	PeakActive  int
	TotalSpawns int64
	SpawnErrors int64
	Segments    int64
	ExitCodes   map[int]int64
	Stages      []stats.StageSummary
}

// GenerateSummary creates a summary of the run so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		PeakActive:  c.peakActive,
		TotalSpawns: c.totalSpawns,
		SpawnErrors: c.totalErrors,
		Segments:    c.segmentCount,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
		Stages:      c.durations.Summaries(),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	return s
}

// Durations exposes the per-stage duration aggregate.
func (c *Collector) Durations() *stats.Durations {
	return c.durations
}

// PeakActive returns the peak number of concurrent child processes.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}
