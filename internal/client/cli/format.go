package cli

import (
	"context"
	"fmt"
	"strings"

	cm "github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/models"
)

const timeLayout = "2006-01-02 15:04"

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// who names an author from the viewer's side.
func (a *App) who(userID string) string {
	if a.session == nil {
		return userID
	}
	if userID == a.session.UserID() {
		return "you"
	}
	if u, ok, err := a.session.CachedUser(context.Background(), userID); err == nil && ok && u.DisplayName != "" {
		return u.DisplayName
	}
	return "partner"
}

func syncMark(s models.SyncStatus) string {
	if s == "" || s == models.SyncSynced {
		return ""
	}
	return " (" + string(s) + ")"
}

func (a *App) formatEntry(je models.JournalEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s  %-8s %s  by %s%s", je.CreatedAt.Local().Format(timeLayout), je.Mood, je.ID, a.who(je.AuthorID), syncMark(je.SyncStatus))
	if len(je.Tags) > 0 {
		fmt.Fprintf(&b, "\n    #%s", strings.Join(je.Tags, " #"))
	}
	if je.Body != "" {
		b.WriteString("\n    ")
		b.WriteString(strings.ReplaceAll(je.Body, "\n", "\n    "))
	}
	return b.String()
}

func (a *App) formatMemory(m models.Memory) string {
	s := fmt.Sprintf("  %s  %s  by %s%s", m.CreatedAt.Local().Format(timeLayout), m.ID, a.who(m.AuthorID), syncMark(m.SyncStatus))
	if m.Caption != "" {
		s += "\n    " + m.Caption
	}
	return s
}

func (a *App) formatPing(p models.LovePing) string {
	s := fmt.Sprintf("  %s  %s  from %s", p.CreatedAt.Local().Format(timeLayout), p.ID, a.who(p.SenderID))
	if p.Note != "" {
		s += ": " + p.Note
	}
	return s
}

func formatOutbox(e cm.OutboxEntry) string {
	s := fmt.Sprintf("  #%d  %-9s %s %s %s", e.Seq, e.Status, e.Op, e.EntityType, e.EntityID)
	if e.Attempts > 0 {
		s += fmt.Sprintf("  attempts=%d", e.Attempts)
	}
	if e.LastError != "" {
		s += "  " + e.LastError
	}
	return s
}
