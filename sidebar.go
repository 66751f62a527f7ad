package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m *model) sidebarWidth() int {
	longest := len("UNREAD")
	for _, gid := range m.unread {
		if n := len(shortID(gid)) + 1; n > longest {
			longest = n
		}
	}
	w := longest + sidebarPadding
	if w < minSidebarWidth {
		w = minSidebarWidth
	}
	return w
}

// viewSidebar lists the groups with messages newer than their read marker.
func (m *model) viewSidebar() string {
	contentHeight := m.height - lipgloss.Height(m.viewStatusBar())
	sw := m.sidebarWidth()

	items := []string{sidebarSectionStyle.Render("UNREAD")}
	switch {
	case !m.groupSync:
		items = append(items, emptyStyle.Render("sync off"))
	case len(m.unread) == 0:
		items = append(items, emptyStyle.Render("all read"))
	default:
		for _, gid := range m.unread {
			items = append(items, sidebarUnreadStyle.Render("~"+shortID(gid)))
		}
	}

	items = append(items, "", sidebarSectionStyle.Render("INVITES"), sidebarItemStyle.Render(pendingLabel(m.pending)))

	return sidebarStyle.Width(sw).Height(contentHeight).MaxHeight(contentHeight).Render(strings.Join(items, "\n"))
}
