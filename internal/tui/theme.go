package tui

import (
	"hash/fnv"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"
)

// ────────────────────────────────────────────────────────────
// Color Palette
// ────────────────────────────────────────────────────────────
//
// All colors are defined here. No ad-hoc color literals anywhere.

var (
	// Base
	colorBgSurface = lipgloss.Color("#1c2128")

	// Text
	colorText      = lipgloss.Color("#e6edf3")
	colorTextDim   = lipgloss.Color("#8b949e")
	colorTextMuted = lipgloss.Color("#484f58")

	// Accents
	colorBlue   = lipgloss.Color("#58a6ff")
	colorGreen  = lipgloss.Color("#3fb950")
	colorRed    = lipgloss.Color("#f85149")
	colorYellow = lipgloss.Color("#d29922")
	colorPurple = lipgloss.Color("#bc8cff")
	colorCyan   = lipgloss.Color("#76e3ea")
	colorOrange = lipgloss.Color("#f0883e")
	colorPink   = lipgloss.Color("#f778ba")

	// Structural
	colorDivider   = lipgloss.Color("#30363d")
	colorHighlight = lipgloss.Color("#1f6feb")
	colorHover     = lipgloss.Color("#262c36")
)

// nodePalette colors span bars by node.
var nodePalette = []lipgloss.Color{
	colorBlue, colorGreen, colorPurple, colorCyan, colorOrange, colorPink, colorYellow,
}

// nodeColor picks a stable color for a node name.
func nodeColor(node string) lipgloss.Color {
	h := fnv.New32a()
	h.Write([]byte(node))
	return nodePalette[h.Sum32()%uint32(len(nodePalette))]
}

// ────────────────────────────────────────────────────────────
// Component Styles
// ────────────────────────────────────────────────────────────

// Header bar
var (
	headerBarStyle = lipgloss.NewStyle().
			Background(colorBgSurface).
			Foreground(colorText).
			Padding(0, 1)

	headerBrandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorBlue)

	headerSepStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	headerMetaStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	headerLoadingStyle = lipgloss.NewStyle().
				Foreground(colorYellow)
)

// Panel chrome
var (
	panelStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.Border{Top: "─"}).
			BorderForeground(colorDivider)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)
)

// Overview strip and time axis
var (
	overviewTrackStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)

	overviewWindowStyle = lipgloss.NewStyle().
				Foreground(colorBlue)

	overviewHandleStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)

	overviewActiveStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Bold(true)

	axisStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// Span rows
var (
	rowLabelStyle = lipgloss.NewStyle().
			Foreground(colorText)

	rowSyntheticStyle = lipgloss.NewStyle().
				Foreground(colorTextDim).
				Italic(true)

	rowSelectedStyle = lipgloss.NewStyle().
				Background(colorHighlight).
				Foreground(colorText).
				Bold(true)

	rowHoverStyle = lipgloss.NewStyle().
			Background(colorHover)

	gapBarStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	emptyStateStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Padding(1, 4)
)

// Detail pane
var (
	detailLabelStyle = lipgloss.NewStyle().
				Foreground(colorBlue)

	detailValueStyle = lipgloss.NewStyle().
				Foreground(colorText)

	detailSectionStyle = lipgloss.NewStyle().
				Foreground(colorDivider)

	detailDimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	detailWarnStyle = lipgloss.NewStyle().
			Foreground(colorRed)
)

// Footer / status bar
var (
	statusStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorBgSurface).
			Padding(0, 1)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Background(colorBgSurface).
				Bold(true).
				Padding(0, 1)

	hintKeyStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	hintDescStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	promptStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorBgSurface).
			Padding(0, 1)
)

// newHelp builds the footer key help in the theme colors.
func newHelp() help.Model {
	h := help.New()
	h.ShortSeparator = "  "
	h.Styles.ShortKey = hintKeyStyle
	h.Styles.ShortDesc = hintDescStyle
	h.Styles.ShortSeparator = hintDescStyle
	h.Styles.FullKey = hintKeyStyle
	h.Styles.FullDesc = hintDescStyle
	return h
}
