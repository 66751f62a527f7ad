package main

import (
	"context"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pinpox/marmot-sync/inbox"
	"github.com/pinpox/marmot-sync/session"
)

// inviteUpdater is the part of the inbox the monitor acts on.
type inviteUpdater interface {
	SetInviteStatus(ctx context.Context, id string, status inbox.Status) error
}

type model struct {
	ctx  context.Context
	keys Keys

	inbox inviteUpdater

	// Push updates bridged from the managers' observables.
	invitesCh <-chan []inbox.PendingInvite
	pendingCh <-chan int
	unreadCh  <-chan []string // nil without group sync

	// TUI dimensions
	width    int
	height   int
	viewport viewport.Model

	invites   []inbox.PendingInvite
	pending   int
	unread    []string
	groupSync bool
	cursor    int

	// Status
	statusMsg string
	statusErr bool
}

func newModel(ctx context.Context, sess *session.Session, keys Keys) model {
	m := model{
		ctx:       ctx,
		keys:      keys,
		inbox:     sess.Inbox(),
		invitesCh: sess.Inbox().Invites().Subscribe(ctx),
		pendingCh: sess.Inbox().Pending().Subscribe(ctx),
		viewport:  viewport.New(80, 20),
	}
	if g := sess.Groups(); g != nil {
		m.groupSync = true
		m.unreadCh = g.Unread().Subscribe(ctx)
	}
	return m
}

type invitesMsg []inbox.PendingInvite

type pendingMsg int

type unreadMsg []string

type inviteStatusMsg struct {
	id     string
	status inbox.Status
	err    error
}

func waitForInvites(ch <-chan []inbox.PendingInvite) tea.Cmd {
	return func() tea.Msg {
		list, ok := <-ch
		if !ok {
			return nil
		}
		return invitesMsg(list)
	}
}

func waitForPending(ch <-chan int) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return pendingMsg(n)
	}
}

func waitForUnread(ch <-chan []string) tea.Cmd {
	return func() tea.Msg {
		ids, ok := <-ch
		if !ok {
			return nil
		}
		return unreadMsg(ids)
	}
}

// setInviteStatusCmd changes the status of an invite off the UI goroutine.
func setInviteStatusCmd(ctx context.Context, in inviteUpdater, id string, status inbox.Status) tea.Cmd {
	return func() tea.Msg {
		err := in.SetInviteStatus(ctx, id, status)
		return inviteStatusMsg{id: id, status: status, err: err}
	}
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForInvites(m.invitesCh), waitForPending(m.pendingCh)}
	if m.unreadCh != nil {
		cmds = append(cmds, waitForUnread(m.unreadCh))
	}
	return tea.Batch(cmds...)
}

// selectedInvite returns the invite under the cursor.
func (m *model) selectedInvite() (inbox.PendingInvite, bool) {
	if m.cursor < 0 || m.cursor >= len(m.invites) {
		return inbox.PendingInvite{}, false
	}
	return m.invites[m.cursor], true
}

// clampCursor keeps the cursor inside the invite list.
func (m *model) clampCursor() {
	if m.cursor >= len(m.invites) {
		m.cursor = len(m.invites) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
