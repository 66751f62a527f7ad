package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pinpox/marmot-sync/inbox"
)

func (m *model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	mainArea := lipgloss.JoinHorizontal(lipgloss.Top, m.viewSidebar(), m.viewContent())
	return lipgloss.JoinVertical(lipgloss.Left, mainArea, m.viewStatusBar())
}

func (m *model) contentWidth() int {
	return max(m.width-m.sidebarWidth()-sidebarBorder, 10)
}

func (m *model) updateLayout() {
	m.viewport.Width = m.contentWidth()
	// header and help line
	m.viewport.Height = max(m.height-lipgloss.Height(m.viewStatusBar())-2, 1)
	m.updateViewport()
}

// updateViewport renders the invite rows and scrolls just enough to keep
// the cursor row visible.
func (m *model) updateViewport() {
	if len(m.invites) == 0 {
		m.viewport.SetContent(emptyStyle.Render("no invitations yet"))
		m.viewport.GotoTop()
		return
	}
	rows := make([]string, len(m.invites))
	for i, inv := range m.invites {
		rows[i] = m.renderInvite(inv, i == m.cursor, m.viewport.Width)
	}
	m.viewport.SetContent(strings.Join(rows, "\n"))

	switch {
	case m.cursor < m.viewport.YOffset:
		m.viewport.SetYOffset(m.cursor)
	case m.cursor >= m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 1)
	}
}

func (m *model) viewContent() string {
	totalHeight := m.height - lipgloss.Height(m.viewStatusBar())

	inner := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("Invitations"),
		m.viewport.View(),
		emptyStyle.Render("j/k move  x archive  p restore  q quit"),
	)
	return lipgloss.NewStyle().Width(m.contentWidth()).Height(totalHeight).MaxHeight(totalHeight).Render(inner)
}

func (m *model) renderInvite(inv inbox.PendingInvite, selected bool, width int) string {
	ts := time.Unix(inv.ReceivedAt, 0).Format("01-02 15:04")
	from := shortID(inv.Welcome.PubKey)
	status := string(inv.Status)

	style := inviteSelectedStyle
	if !selected {
		style = inviteItemStyle
		ts = inviteTimestampStyle.Render(ts)
		from = lipgloss.NewStyle().Foreground(colorForPubkey(inv.Welcome.PubKey)).Bold(true).Render(from)
		status = lipgloss.NewStyle().Foreground(statusColors[status]).Render(status)
	}
	line := fmt.Sprintf("%s %s %s %s %d relays", ts, from, status, inv.CipherSuite, len(inv.Relays))
	return style.MaxWidth(width).Render(line)
}

func (m *model) viewStatusBar() string {
	parts := []string{m.keys.NPub[:min(len(m.keys.NPub), 16)], pendingLabel(m.pending)}
	if m.groupSync {
		parts = append(parts, statusConnectedStyle.Render("● group sync"))
	} else {
		parts = append(parts, statusErrorStyle.Render("○ group sync off"))
	}
	if m.statusMsg != "" {
		if m.statusErr {
			parts = append(parts, statusErrorStyle.Render(m.statusMsg))
		} else {
			parts = append(parts, m.statusMsg)
		}
	}
	return statusBarStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

func pendingLabel(n int) string {
	if n == 1 {
		return "1 pending"
	}
	return fmt.Sprintf("%d pending", n)
}
