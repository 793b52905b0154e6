// Package tui provides a live terminal dashboard for wavy runs.
//
// The TUI uses Bubble Tea for the application framework, Bubbles for the
// log viewport and spinner, and Lipgloss for styling. It shows:
// - Each stage with its state, exit code and latest output line
// - The most recent status message
// - A scrollable log of all process output
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	boldStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	stageNameStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)

	stderrStyle = lipgloss.NewStyle().
			Foreground(colorWarning)
)

// =============================================================================
// Event Queue Indicator
// =============================================================================

// QueueStatus represents the health of the event queue.
type QueueStatus int

const (
	QueueStatusOK QueueStatus = iota
	QueueStatusDropping
	QueueStatusSeverelyDropping
)

// severeDrops is where dropped status messages stop being a curiosity.
const severeDrops = 100

// GetQueueStatus returns the status based on dropped status events.
func GetQueueStatus(dropped uint64) QueueStatus {
	switch {
	case dropped > severeDrops:
		return QueueStatusSeverelyDropping
	case dropped > 0:
		return QueueStatusDropping
	default:
		return QueueStatusOK
	}
}

// GetQueueLabel returns a styled label for the event queue.
func GetQueueLabel(dropped uint64) string {
	switch GetQueueStatus(dropped) {
	case QueueStatusSeverelyDropping:
		return statusError.Render(fmt.Sprintf("● Events (%d dropped)", dropped))
	case QueueStatusDropping:
		return statusWarning.Render(fmt.Sprintf("● Events (%d dropped)", dropped))
	default:
		return statusOK.Render("● Events")
	}
}

// =============================================================================
// Stage State Indicator
// =============================================================================

// GetStateStyle returns the style for a stage state.
func GetStateStyle(state events.State) lipgloss.Style {
	switch state {
	case events.StateSucceeded:
		return statusOK
	case events.StateRunning, events.StateStarting:
		return statusInfo
	case events.StateTerminated:
		return statusWarning
	case events.StateFailed, events.StateSpawnError:
		return statusError
	default:
		return mutedStyle
	}
}

// GetStateIcon returns a one-cell glyph for a stage state.
func GetStateIcon(state events.State) string {
	switch state {
	case events.StateSucceeded:
		return "✓"
	case events.StateRunning, events.StateStarting:
		return "▶"
	case events.StateTerminated:
		return "■"
	case events.StateFailed, events.StateSpawnError:
		return "✗"
	default:
		return "○"
	}
}

// GetSeverityStyle returns the style for a status message.
func GetSeverityStyle(sev events.Severity) lipgloss.Style {
	switch sev {
	case events.SeverityWarning:
		return statusWarning
	case events.SeverityError:
		return statusError
	default:
		return boldStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// truncate shortens s to width cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
