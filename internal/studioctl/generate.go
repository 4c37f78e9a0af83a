package studioctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"image-studio/internal/domain/model"
)

type GenerateOptions struct {
	Request SubmitRequest
	NoWait  bool
	OutDir  string
	Log     *zerolog.Logger
}

const eventQueue = 256

// Generate submits a batch and follows its items over the event stream
// until every one has completed or failed. The stream is opened before
// submitting so no transition is missed.
func Generate(ctx context.Context, c *Client, opts GenerateOptions, w io.Writer) error {
	log := opts.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	if opts.NoWait {
		resp, err := c.Submit(ctx, opts.Request)
		if err != nil {
			return err
		}
		for _, id := range resp.ItemIDs {
			fmt.Fprintln(w, id)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, eventQueue)
	streamErr := make(chan error, 1)
	go func() {
		defer close(events)
		streamErr <- c.Events(ctx, func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	select {
	case ev, ok := <-events:
		if !ok {
			return fmt.Errorf("event stream: %w", <-streamErr)
		}
		if ev.Name != "snapshot" {
			return fmt.Errorf("event stream: expected snapshot, got %q", ev.Name)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	resp, err := c.Submit(ctx, opts.Request)
	if err != nil {
		return err
	}
	log.Info().Str("batch_id", resp.BatchID).Int("items", len(resp.ItemIDs)).Msg("batch submitted")
	if len(resp.ItemIDs) == 0 {
		fmt.Fprintln(w, "no tasks: none of the selected models are registered")
		return nil
	}

	tr := newTracker(resp.ItemIDs)
	for !tr.settled() {
		var ev Event
		var ok bool
		select {
		case ev, ok = <-events:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			err := <-streamErr
			if err == nil {
				err = errors.New("closed by server")
			}
			return fmt.Errorf("event stream ended before the batch settled: %w", err)
		}

		var ch Change
		if err := json.Unmarshal(ev.Data, &ch); err != nil {
			log.Debug().Err(err).Str("event", ev.Name).Msg("skipping undecodable event")
			continue
		}
		switch ch.Type {
		case "items_added", "item_updated":
			for _, it := range ch.Items {
				if tr.update(it) {
					printProgress(w, it)
				}
			}
		case "item_removed":
			if tr.remove(ch.ItemID) {
				fmt.Fprintf(w, "%s  removed\n", shortID(ch.ItemID))
			}
		}
	}
	cancel()

	completed, failed := tr.results()
	fmt.Fprintf(w, "done: %d completed, %d failed\n", len(completed), len(failed))
	if opts.OutDir != "" {
		if err := saveImages(context.Background(), c, opts.OutDir, completed, w); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d generations failed", len(failed), len(completed)+len(failed))
	}
	return nil
}

// tracker follows the latest state of a fixed set of item ids.
type tracker struct {
	order  []string
	want   map[string]bool
	latest map[string]Item
}

func newTracker(ids []string) *tracker {
	t := &tracker{order: ids, want: make(map[string]bool, len(ids)), latest: map[string]Item{}}
	for _, id := range ids {
		t.want[id] = true
	}
	return t
}

// update records it and reports whether its status changed.
func (t *tracker) update(it Item) bool {
	if !t.want[it.ID] {
		return false
	}
	prev, seen := t.latest[it.ID]
	t.latest[it.ID] = it
	return !seen || prev.Status != it.Status || ptrInt(prev.RetryCount) != ptrInt(it.RetryCount)
}

func (t *tracker) remove(id string) bool {
	if !t.want[id] {
		return false
	}
	delete(t.want, id)
	delete(t.latest, id)
	return true
}

func (t *tracker) settled() bool {
	for id := range t.want {
		it, ok := t.latest[id]
		if !ok || !it.Terminal() {
			return false
		}
	}
	return true
}

func (t *tracker) results() (completed, failed []Item) {
	for _, id := range t.order {
		it, ok := t.latest[id]
		if !ok || !t.want[id] {
			continue
		}
		if it.Status == model.ItemStatusCompleted {
			completed = append(completed, it)
		} else {
			failed = append(failed, it)
		}
	}
	return completed, failed
}

func ptrInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func saveImages(ctx context.Context, c *Client, dir string, items []Item, w io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, it := range items {
		data, mt, err := c.Download(ctx, it.ImageURL)
		if err != nil {
			return fmt.Errorf("download %s: %w", it.ID, err)
		}
		name := it.RecordID
		if name == "" {
			name = it.ID
		}
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			name += exts[0]
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "saved %s\n", path)
	}
	return nil
}
