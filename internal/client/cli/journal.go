package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/couplesync/internal/client/reconcile"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/models"
)

var errUsage = errors.New("usage")

func moodList() string {
	names := make([]string, len(models.Moods))
	for i, m := range models.Moods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// journalDraft reads "<mood> [tag,tag...]" from args and the body from the
// prompt.
func (a *App) journalDraft(args []string) (reconcile.JournalDraft, error) {
	if len(args) == 0 {
		return reconcile.JournalDraft{}, errUsage
	}
	mood, err := models.ParseMood(strings.ToLower(args[0]))
	if err != nil {
		return reconcile.JournalDraft{}, fmt.Errorf("%w; moods: %s", err, moodList())
	}
	var tags []string
	if len(args) > 1 {
		tags = SplitTags(strings.Join(args[1:], ","))
	}
	body, err := GetMultiline(a.reader, "How was your day?", a.out)
	if err != nil {
		return reconcile.JournalDraft{}, err
	}
	return reconcile.JournalDraft{Mood: mood, Tags: tags, Body: body}, nil
}

// Journal writes a new entry: journal <mood> [tag,tag...]
func (a *App) Journal(ctx context.Context, args []string) error {
	d, err := a.journalDraft(args)
	if errors.Is(err, errUsage) {
		a.printf("Usage: journal <mood> [tag,tag...]\nMoods: %s\n", moodList())
		return nil
	}
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	je, err := a.engine.SubmitJournalEntry(ctx, d)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Saved entry %s\n", je.ID)
	return nil
}

// Edit replaces one of the user's entries: edit <id> <mood> [tag,tag...]
func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		a.printf("Usage: edit <id> <mood> [tag,tag...]\n")
		return nil
	}
	d, err := a.journalDraft(args[1:])
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	if _, err := a.engine.EditJournalEntry(ctx, args[0], d); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Updated entry %s\n", args[0])
	return nil
}

// Delete removes a journal entry or a memory: delete <id>
func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		a.printf("Usage: delete <id>\n")
		return nil
	}
	id := args[0]
	err := a.engine.DeleteJournalEntry(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		err = a.engine.DeleteMemory(ctx, id)
	}
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Deleted %s\n", id)
	return nil
}

// List prints cached data: list [journal|memories|pings]
func (a *App) List(ctx context.Context, args []string) error {
	what := "all"
	if len(args) > 0 {
		what = args[0]
	}

	var err error
	switch what {
	case "all":
		if err = a.listJournal(ctx); err == nil {
			if err = a.listMemories(ctx); err == nil {
				err = a.listPings(ctx)
			}
		}
	case "journal", "j":
		err = a.listJournal(ctx)
	case "memories", "m":
		err = a.listMemories(ctx)
	case "pings", "p":
		err = a.listPings(ctx)
	default:
		a.printf("Usage: list [journal|memories|pings]\n")
		return nil
	}
	if err != nil {
		a.printf("Error: %v\n", err)
	}
	return err
}

func (a *App) listJournal(ctx context.Context) error {
	entries, err := a.engine.JournalEntries(ctx)
	if err != nil {
		return err
	}
	a.printf("Journal (%d)\n", len(entries))
	for _, je := range entries {
		a.printf("%s\n", a.formatEntry(je))
	}
	return nil
}

func (a *App) listMemories(ctx context.Context) error {
	memories, err := a.engine.Memories(ctx)
	if err != nil {
		return err
	}
	a.printf("Memories (%d)\n", len(memories))
	for _, m := range memories {
		a.printf("%s\n", a.formatMemory(m))
	}
	return nil
}

func (a *App) listPings(ctx context.Context) error {
	pings, err := a.engine.PendingPings(ctx)
	if err != nil {
		return err
	}
	if len(pings) == 0 {
		return nil
	}
	a.printf("Love pings (%d)\n", len(pings))
	for _, p := range pings {
		a.printf("%s\n", a.formatPing(p))
	}
	return nil
}

// Streak prints the couple's current and longest journaling streak.
func (a *App) Streak(ctx context.Context, _ []string) error {
	s, err := a.engine.GetCurrentStreak(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Current streak: %s, longest: %s\n", pluralize(s.Current, "day", "days"), pluralize(s.Longest, "day", "days"))
	return nil
}
