package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Add collects a title and note body and persists a new note. The write is
// local; the background loop (or an explicit sync) pushes it out.
func (a *App) Add(ctx context.Context) error {
	title, err := GetSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	if strings.TrimSpace(title) == "" {
		log.Printf("error: title is required")
		return fmt.Errorf("title is required")
	}

	content, err := GetMultiline(a.reader, "Enter note text (double Enter to finish):", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	n, err := a.noteService.Add(ctx, title, content)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	log.Printf("Created %s", n.ID)
	return nil
}

// Edit replaces a note's title and content.
func (a *App) Edit(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter note id to edit", os.Stdout)
	if err != nil {
		return err
	}

	current, err := a.noteService.Get(ctx, id)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	title, err := GetSimpleText(a.reader, fmt.Sprintf("Enter title (was: %s)", current.Title), os.Stdout)
	if err != nil {
		return err
	}
	if title == "" {
		title = current.Title
	}

	content, err := GetMultiline(a.reader, "Enter note text (double Enter to finish):", os.Stdout)
	if err != nil {
		return err
	}

	if _, err := a.noteService.Update(ctx, id, title, content); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// List prints a short line per stored note.
func (a *App) List(ctx context.Context) error {
	rows, err := a.noteService.List(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	for _, n := range rows {
		state := "synced"
		if n.Dirty {
			state = "pending"
		}
		fmt.Printf("%s  %-30s  %s  %s\n", n.ID, n.Title, time.UnixMilli(n.UpdatedAt).Format(time.RFC3339), state)
	}
	return nil
}

// Show fetches and displays a single note by ID, derived fields included.
func (a *App) Show(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter note id to show", os.Stdout)
	if err != nil {
		return err
	}

	n, err := a.noteService.Get(ctx, id)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	log.Println(n.Title)
	log.Printf("Note: %s", n.Content)

	if !n.Enrichment.IsZero() {
		log.Printf("Summary: %s", n.Enrichment.Summary)
		for _, b := range n.Enrichment.Bullets {
			log.Printf("  - %s", b)
		}
		for _, item := range n.Enrichment.ActionItems {
			log.Printf("  [ ] %s", item)
		}
		if len(n.Enrichment.Tags) > 0 {
			log.Printf("Tags: %s", strings.Join(n.Enrichment.Tags, ", "))
		}
	}

	for _, attID := range n.AttachmentIDs {
		log.Printf("Attachment: %s", attID)
	}
	return nil
}

// Delete tombstones a note by its identifier, prompting the user for the ID.
func (a *App) Delete(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter note id to delete", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.noteService.Delete(ctx, id); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// Attach stages a local file as an attachment on a note. The binary is
// uploaded lazily, on the sync path.
func (a *App) Attach(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}
	path, err := GetSimpleText(a.reader, "Enter file path", os.Stdout)
	if err != nil {
		return err
	}
	mime, err := GetSimpleText(a.reader, "Enter mime type (e.g. image/jpeg)", os.Stdout)
	if err != nil {
		return err
	}

	att, err := a.noteService.AttachFile(ctx, id, path, mime)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	log.Printf("Attached %s (upload %s)", att.ID, att.Status)
	return nil
}

// Enrich derives AI fields for a note and stores them like any other edit.
func (a *App) Enrich(ctx context.Context) error {
	if a.enricher == nil {
		log.Printf("enrichment is not configured (set an anthropic api key)")
		return nil
	}

	id, err := GetSimpleText(a.reader, "Enter note id to enrich", os.Stdout)
	if err != nil {
		return err
	}

	n, err := a.noteService.Get(ctx, id)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	e, err := a.enricher.Enrich(ctx, n.Title+"\n\n"+n.Content)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	if err := a.noteService.ApplyEnrichment(ctx, id, *e); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	log.Printf("Summary: %s", e.Summary)
	return nil
}

// Sync triggers a sync cycle immediately.
func (a *App) Sync(ctx context.Context) error {
	if err := a.coordinator.TriggerSync(ctx); err != nil {
		log.Printf("sync error: %v", err)
		return err
	}
	return nil
}

// Failed lists outbox entries that exhausted their retries.
func (a *App) Failed(ctx context.Context) error {
	return a.reportFailed(ctx)
}

func (a *App) reportFailed(ctx context.Context) error {
	entries, err := a.outbox.Failed(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No failed entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%d  %s  %s  retries=%d\n", e.Seq, e.NoteID, e.Op, e.RetryCount)
	}
	return nil
}
