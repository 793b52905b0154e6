// Package stats aggregates stage outcomes and durations and formats the
// exit summary.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// digestCompression trades accuracy for memory; 100 is plenty for the
// handful of samples a stage produces.
const digestCompression = 100

// StageSummary is the aggregate for one stage name.
type StageSummary struct {
	Stage      string
	Runs       int
	Succeeded  int
	Failed     int
	Terminated int
	SpawnError int

	P50 time.Duration
	P95 time.Duration
	Max time.Duration
}

type stageAgg struct {
	digest *tdigest.TDigest
	max    time.Duration
	states map[events.State]int
	runs   int
}

// Durations collects stage durations per stage name. Safe for concurrent
// use.
type Durations struct {
	mu     sync.Mutex
	stages map[string]*stageAgg
}

// NewDurations creates an empty collection.
func NewDurations() *Durations {
	return &Durations{stages: make(map[string]*stageAgg)}
}

// Add records one finished stage.
func (d *Durations) Add(stage string, state events.State, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agg, ok := d.stages[stage]
	if !ok {
		agg = &stageAgg{
			digest: tdigest.NewWithCompression(digestCompression),
			states: make(map[events.State]int),
		}
		d.stages[stage] = agg
	}

	agg.digest.Add(dur.Seconds(), 1)
	if dur > agg.max {
		agg.max = dur
	}
	agg.states[state]++
	agg.runs++
}

// AddResult records a stage result.
func (d *Durations) AddResult(res events.StageResult) {
	d.Add(res.Stage, res.State, res.Duration)
}

// Summaries returns one summary per stage, sorted by stage name.
func (d *Durations) Summaries() []StageSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]StageSummary, 0, len(d.stages))
	for name, agg := range d.stages {
		out = append(out, StageSummary{
			Stage:      name,
			Runs:       agg.runs,
			Succeeded:  agg.states[events.StateSucceeded],
			Failed:     agg.states[events.StateFailed],
			Terminated: agg.states[events.StateTerminated],
			SpawnError: agg.states[events.StateSpawnError],
			P50:        seconds(agg.digest.Quantile(0.50)),
			P95:        seconds(agg.digest.Quantile(0.95)),
			Max:        agg.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Len returns the number of stages seen.
func (d *Durations) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stages)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
