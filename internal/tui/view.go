package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
		m.renderStages(),
		m.renderLogs(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	title := "wavyctl"
	if m.title != "" {
		title += " " + m.title
	}
	header := fmt.Sprintf(" %s │ %s │ Elapsed: %s ",
		title,
		GetQueueLabel(m.dropped),
		stats.FormatDuration(m.Elapsed()),
	)
	if m.target != "" {
		header += "│ " + m.target + " "
	}
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Status
// =============================================================================

func (m Model) renderStatus() string {
	indicator := m.spinner.View()
	if m.finished {
		indicator = GetStateIcon(events.State(m.outcome))
	}

	msg := m.status
	if msg == "" {
		msg = "Waiting..."
	}
	line := indicator + " " + GetSeverityStyle(m.severity).Render(truncate(msg, m.width-4))

	if m.finished && m.outcome != "" {
		line += "  " + mutedStyle.Render("("+m.outcome+")")
	}
	return line
}

// =============================================================================
// Stages
// =============================================================================

func (m Model) renderStages() string {
	rows := []string{sectionHeaderStyle.Render("Stages")}
	if len(m.stageOrder) == 0 {
		rows = append(rows, dimStyle.Render("no stages yet"))
	}

	lineWidth := m.width - 50
	for _, name := range m.stageOrder {
		rows = append(rows, renderStageRow(*m.stages[name], lineWidth))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderStageRow(r StageRow, lineWidth int) string {
	style := GetStateStyle(r.State)

	exit := "-"
	if r.Exited {
		exit = fmt.Sprintf("%d", r.ExitCode)
	}
	dur := "-"
	if r.Duration > 0 {
		dur = stats.FormatDuration(r.Duration)
	}

	return fmt.Sprintf("%s %-12s %-12s %4s %8s  %s",
		style.Render(GetStateIcon(r.State)),
		stageNameStyle.Render(r.Name),
		style.Render(string(r.State)),
		exit,
		dur,
		mutedStyle.Render(truncate(r.LastLine, lineWidth)),
	)
}

// =============================================================================
// Logs
// =============================================================================

func (m Model) renderLogs() string {
	title := fmt.Sprintf("Output (%d lines)", len(m.lines))
	body := m.logs.View()
	if len(m.lines) == 0 {
		body = dimStyle.Render("no output yet")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render(title),
		body,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	var parts []string
	switch {
	case m.closed || m.source == nil:
		parts = append(parts, "q quit")
	case m.stopping:
		parts = append(parts, statusWarning.Render("stopping, q again to leave"))
	default:
		parts = append(parts, "q stop")
	}
	parts = append(parts, "↑/↓ scroll", "g/G top/bottom")
	if m.metricsAddr != "" {
		parts = append(parts, "metrics http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(strings.Join(parts, " • "))
}
