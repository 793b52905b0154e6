package stats

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// SummaryConfig holds what the exit summary reports.
type SummaryConfig struct {
	// Title names the run, e.g. "stream" or "play".
	Title string

	Outcome  events.State
	Duration time.Duration

	// Results are the finished stages, in order.
	Results []events.StageResult

	// Spawns and Segments come from the run's metrics collector.
	Spawns   int64
	Segments int64

	// DroppedEvents counts status messages the observer never saw.
	DroppedEvents uint64

	// MetricsAddr is the Prometheus metrics endpoint address.
	MetricsAddr string
}

// FormatExitSummary formats the run for display at program exit.
func FormatExitSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	fmt.Fprintf(&b, "wavyctl %s: %s in %s\n\n", cfg.Title, cfg.Outcome, FormatDuration(cfg.Duration))

	if len(cfg.Results) > 0 {
		rows := make([][]string, 0, len(cfg.Results))
		for _, r := range cfg.Results {
			rows = append(rows, []string{
				r.Stage,
				string(r.State),
				strconv.Itoa(r.ExitCode) + exitCodeLabel(r.ExitCode),
				FormatMs(r.Duration),
			})
		}
		b.WriteString(RenderTable(
			[]string{"Stage", "State", "Exit", "Duration"},
			rows,
			[]bool{false, false, true, true},
		))
		b.WriteString("\n")
	}

	for _, r := range cfg.Results {
		if !r.Succeeded() && r.State != events.StateTerminated {
			fmt.Fprintf(&b, "\n%s\n", r.Summary())
		}
	}

	if cfg.Spawns > 0 || cfg.Segments > 0 {
		fmt.Fprintf(&b, "\nProcesses spawned: %d", cfg.Spawns)
		if cfg.Segments > 0 {
			fmt.Fprintf(&b, ", segments written: %d", cfg.Segments)
		}
		b.WriteString("\n")
	}

	if cfg.DroppedEvents > 0 {
		fmt.Fprintf(&b, "\n%d status messages were dropped while the display was busy\n", cfg.DroppedEvents)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "\nMetrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	return b.String()
}

// FormatStageTable renders per-stage aggregates.
func FormatStageTable(summaries []StageSummary) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Stage,
			strconv.Itoa(s.Runs),
			strconv.Itoa(s.Succeeded),
			strconv.Itoa(s.Failed + s.SpawnError),
			strconv.Itoa(s.Terminated),
			FormatMs(s.P50),
			FormatMs(s.P95),
			FormatMs(s.Max),
		})
	}
	return RenderTable(
		[]string{"Stage", "Runs", "OK", "Failed", "Stopped", "P50", "P95", "Max"},
		rows,
		[]bool{false, true, true, true, true, true, true, true},
	)
}

// RenderTable renders a rounded table. alignRight selects right alignment
// per column.
func RenderTable(headers []string, rows [][]string, alignRight []bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(alignRight) && alignRight[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return " (clean)"
	case 1:
		return " (error)"
	case 137:
		return " (SIGKILL)"
	case 143:
		return " (SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
