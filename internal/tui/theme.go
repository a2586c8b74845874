package tui

import "github.com/charmbracelet/lipgloss"

// Participant colors.
var (
	ColorSelf       = lipgloss.Color("#a855f7")
	ColorTarget     = lipgloss.Color("#dc2626")
	ColorPursuer    = lipgloss.Color("#d97706")
	ColorActive     = lipgloss.Color("#22c55e")
	ColorEliminated = lipgloss.Color("#374151")
)

// Phase colors.
var (
	ColorNotStarted = lipgloss.Color("#7c3aed")
	ColorInProgress = lipgloss.Color("#2563eb")
	ColorEnded      = lipgloss.Color("#16a34a")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// PhaseColor returns the color for a session phase name.
func PhaseColor(phase string) lipgloss.Color {
	switch phase {
	case "not_started":
		return ColorNotStarted
	case "in_progress":
		return ColorInProgress
	case "ended":
		return ColorEnded
	default:
		return ColorDimmed
	}
}

// ClockColor shades the countdown as it runs low.
func ClockColor(remainingMs, durationMs int64) lipgloss.Color {
	if durationMs <= 0 {
		return ColorBright
	}
	switch frac := float64(remainingMs) / float64(durationMs); {
	case frac < 0.1:
		return ColorDanger
	case frac < 0.25:
		return ColorWarning
	default:
		return ColorBright
	}
}

var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
