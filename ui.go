package main

import (
	"encoding/hex"

	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	colorPrimary   = lipgloss.Color("#7B68EE")
	colorSecondary = lipgloss.Color("#5B5682")
	colorMuted     = lipgloss.Color("#636363")
	colorHighlight = lipgloss.Color("#E0DAFF")
	colorStatusBg  = lipgloss.Color("#24283B")
	colorWhite     = lipgloss.Color("#C0CAF5")
	colorGreen     = lipgloss.Color("#9ECE6A")
	colorRed       = lipgloss.Color("#F7768E")
	colorYellow    = lipgloss.Color("#E0AF68")
)

// authorColors are picked per sender pubkey.
var authorColors = []lipgloss.Color{
	"#7AA2F7",
	"#BB9AF7",
	"#7DCFFF",
	"#9ECE6A",
	"#E0AF68",
	"#FF9E64",
	"#F7768E",
	"#2AC3DE",
}

// Layout constants
const (
	minSidebarWidth = 18
	sidebarPadding  = 4
	sidebarBorder   = 1
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			BorderRight(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorSecondary)

	sidebarSectionStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Bold(true).
				Padding(0, 1)

	sidebarItemStyle = lipgloss.NewStyle().
				Foreground(colorWhite).
				Padding(0, 1)

	sidebarUnreadStyle = lipgloss.NewStyle().
				Foreground(colorHighlight).
				Bold(true).
				Padding(0, 1)

	inviteSelectedStyle = lipgloss.NewStyle().
				Foreground(colorHighlight).
				Background(colorSecondary).
				Bold(true).
				Padding(0, 1)

	inviteItemStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Padding(0, 1)

	inviteTimestampStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorStatusBg).
			Padding(0, 1)

	statusConnectedStyle = lipgloss.NewStyle().
				Foreground(colorGreen)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	emptyStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)
)

// statusColors maps invite statuses to their label color.
var statusColors = map[string]lipgloss.Color{
	"pending":  colorYellow,
	"accepted": colorGreen,
	"archived": colorMuted,
}

// colorForPubkey returns a stable color for a hex pubkey.
func colorForPubkey(pk string) lipgloss.Color {
	if len(pk) < 2 {
		return authorColors[0]
	}
	b, err := hex.DecodeString(pk[:2])
	if err != nil {
		return authorColors[0]
	}
	return authorColors[int(b[0])%len(authorColors)]
}
