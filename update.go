package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pinpox/marmot-sync/inbox"
)

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)
	case invitesMsg:
		return m.handleInvites(msg)
	case pendingMsg:
		m.pending = int(msg)
		return m, waitForPending(m.pendingCh)
	case unreadMsg:
		m.unread = []string(msg)
		return m, waitForUnread(m.unreadCh)
	case inviteStatusMsg:
		return m.handleInviteStatus(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.updateLayout()
	return m, nil
}

// handleInvites swaps in a new invite list and keeps the cursor on the
// same invite when it is still listed.
func (m *model) handleInvites(msg invitesMsg) (tea.Model, tea.Cmd) {
	selected, ok := m.selectedInvite()
	m.invites = []inbox.PendingInvite(msg)
	if ok {
		for i, inv := range m.invites {
			if inv.ID == selected.ID {
				m.cursor = i
				break
			}
		}
	}
	m.clampCursor()
	m.updateViewport()
	return m, waitForInvites(m.invitesCh)
}

func (m *model) handleInviteStatus(msg inviteStatusMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.statusMsg = fmt.Sprintf("%s: %v", shortID(msg.id), msg.err)
		m.statusErr = true
		return m, nil
	}
	m.statusMsg = fmt.Sprintf("%s %s", shortID(msg.id), msg.status)
	m.statusErr = false
	return m, nil
}

func (m *model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.invites)-1 {
			m.cursor++
			m.updateViewport()
		}
		return m, nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.updateViewport()
		}
		return m, nil
	case "x":
		return m.setSelectedStatus(inbox.StatusArchived)
	case "p":
		return m.setSelectedStatus(inbox.StatusPending)
	}
	return m, nil
}

func (m *model) setSelectedStatus(status inbox.Status) (tea.Model, tea.Cmd) {
	inv, ok := m.selectedInvite()
	if !ok || inv.Status == status {
		return m, nil
	}
	return m, setInviteStatusCmd(m.ctx, m.inbox, inv.ID, status)
}
