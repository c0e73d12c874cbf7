package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/couplesync/internal/client/media"
	"github.com/dmitrijs2005/couplesync/internal/client/reconcile"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/google/uuid"
)

// Memory uploads a photo and shares it: memory <path> [caption...]
// The upload needs the server; the memory itself syncs like any change.
func (a *App) Memory(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printf("Usage: memory <path> [caption...]\n")
		return nil
	}
	coupleID := a.session.CoupleID()
	if coupleID == "" {
		a.printf("Error: %v\n", common.ErrNotPaired)
		return common.ErrNotPaired
	}
	if !a.isAuthenticated() || a.mode() != ModeOnline {
		a.printf("Uploading a photo needs a connection and an online login\n")
		return common.ErrUnavailable
	}

	f, err := media.ReadFile(args[0])
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}

	id := uuid.NewString()
	target, err := a.remote.MediaUploadURL(ctx, coupleID, id, f.ContentType)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	if err := media.Upload(ctx, target.URL, f.ContentType, f.Data); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}

	m, err := a.engine.SubmitMemory(ctx, reconcile.MemoryDraft{
		ID:       id,
		MediaRef: target.MediaRef,
		Caption:  strings.Join(args[1:], " "),
	})
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Saved memory %s\n", m.ID)
	return nil
}

// Show downloads the photo of a memory: show <id> <file>
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 2 {
		a.printf("Usage: show <memory-id> <file>\n")
		return nil
	}
	memories, err := a.engine.Memories(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	ref := ""
	for _, m := range memories {
		if m.ID == args[0] {
			ref = m.MediaRef
		}
	}
	if ref == "" {
		a.printf("Error: memory %s: %v\n", args[0], common.ErrNotFound)
		return common.ErrNotFound
	}

	url, err := a.remote.MediaDownloadURL(ctx, a.session.CoupleID(), ref)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	if err := download(ctx, url, args[1]); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Saved to %s\n", args[1])
	return nil
}

func download(ctx context.Context, url, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := media.Download(ctx, url, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("download: %w", err)
	}
	return f.Close()
}
