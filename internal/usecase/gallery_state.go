// File: internal/usecase/gallery_state.go
package usecase

import (
	"sync"
	"time"

	"image-studio/internal/domain/model"
	"image-studio/internal/infra/metrics"
)

type EventType string

const (
	EventItemsAdded        EventType = "items_added"
	EventItemUpdated       EventType = "item_updated"
	EventItemRemoved       EventType = "item_removed"
	EventGeneratingChanged EventType = "generating_changed"
	EventLoaded            EventType = "loaded"
)

// GalleryEvent is one change notification. Items carries the added or
// updated items; ItemID is set for removals.
type GalleryEvent struct {
	Type       EventType
	Items      []model.GalleryItem
	ItemID     string
	Generating bool
}

type Direction int

const (
	Next Direction = iota
	Prev
)

// DateGroup is one bucket of completed items sharing a calendar day.
type DateGroup struct {
	Label string
	Items []*model.CompletedItem
}

// GalleryState is the in-memory list of all items, newest first.
// Every mutation is applied atomically under one lock.
type GalleryState struct {
	mu       sync.RWMutex
	items    []model.GalleryItem
	handles  *HandleRegistry
	inFlight int
	loaded   bool

	subs    map[int]chan GalleryEvent
	nextSub int
}

func NewGalleryState(handles *HandleRegistry) *GalleryState {
	if handles == nil {
		handles = NewHandleRegistry(DefaultBlobPrefix)
	}
	return &GalleryState{handles: handles, subs: make(map[int]chan GalleryEvent)}
}

func (g *GalleryState) Handles() *HandleRegistry { return g.handles }

// AddItems prepends a batch, keeping the batch's own order.
func (g *GalleryState) AddItems(items ...model.GalleryItem) {
	if len(items) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make([]model.GalleryItem, 0, len(items)+len(g.items))
	next = append(next, items...)
	g.items = append(next, g.items...)

	batch := make([]model.GalleryItem, len(items))
	copy(batch, items)
	g.publish(GalleryEvent{Type: EventItemsAdded, Items: batch})
	g.reportCounts()
}

// Transition replaces the item with the same id. It returns false when the
// id is unknown (the item was dismissed) or the move is illegal.
func (g *GalleryState) Transition(item model.GalleryItem) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(item, "")
}

// TransitionFrom is Transition that also requires the current status to be
// from, so only one of several concurrent callers wins.
func (g *GalleryState) TransitionFrom(from model.ItemStatus, item model.GalleryItem) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(item, from)
}

func (g *GalleryState) transitionLocked(item model.GalleryItem, from model.ItemStatus) bool {
	i := g.indexOf(item.Base().ID)
	if i < 0 {
		return false
	}
	old := g.items[i]
	if from != "" && old.Status() != from {
		return false
	}
	if !model.CanTransition(old.Status(), item.Status()) {
		return false
	}
	g.items[i] = item
	if prev, ok := old.(*model.CompletedItem); ok {
		if cur, ok := item.(*model.CompletedItem); !ok || cur.Handle.ID != prev.Handle.ID {
			g.handles.Release(prev.Handle)
		}
	}
	g.publish(GalleryEvent{Type: EventItemUpdated, Items: []model.GalleryItem{item}})
	g.reportCounts()
	return true
}

// Remove drops the item and releases its display handle, if any.
func (g *GalleryState) Remove(id string) (model.GalleryItem, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.indexOf(id)
	if i < 0 {
		return nil, false
	}
	old := g.items[i]
	g.items = append(g.items[:i:i], g.items[i+1:]...)
	if c, ok := old.(*model.CompletedItem); ok {
		g.handles.Release(c.Handle)
	}
	g.publish(GalleryEvent{Type: EventItemRemoved, ItemID: id})
	g.reportCounts()
	return old, true
}

func (g *GalleryState) Get(id string) (model.GalleryItem, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.indexOf(id); i >= 0 {
		return g.items[i], true
	}
	return nil, false
}

// Items returns a snapshot of every item, newest first.
func (g *GalleryState) Items() []model.GalleryItem {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.GalleryItem, len(g.items))
	copy(out, g.items)
	return out
}

func (g *GalleryState) Completed() []*model.CompletedItem {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completedLocked()
}

func (g *GalleryState) completedLocked() []*model.CompletedItem {
	var out []*model.CompletedItem
	for _, it := range g.items {
		if c, ok := it.(*model.CompletedItem); ok {
			out = append(out, c)
		}
	}
	return out
}

// GroupByDate buckets completed items by calendar day in now's location.
// Groups keep gallery order.
func (g *GalleryState) GroupByDate(now time.Time) []DateGroup {
	completed := g.Completed()

	var groups []DateGroup
	index := map[string]int{}
	for _, c := range completed {
		if c.CreatedAt.IsZero() {
			continue
		}
		label := DateLabel(c.CreatedAt, now)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DateGroup{Label: label})
		}
		groups[i].Items = append(groups[i].Items, c)
	}
	return groups
}

// DateLabel renders "Today", "Yesterday", "Jan 2" or "Jan 2, 2006" when the
// year differs from now.
func DateLabel(t, now time.Time) string {
	t = t.In(now.Location())
	y, m, d := t.Date()
	ny, nm, nd := now.Date()
	if y == ny && m == nm && d == nd {
		return "Today"
	}
	py, pm, pd := now.AddDate(0, 0, -1).Date()
	if y == py && m == pm && d == pd {
		return "Yesterday"
	}
	if y != ny {
		return t.Format("Jan 2, 2006")
	}
	return t.Format("Jan 2")
}

// Neighbor returns the completed item before or after id, wrapping around.
func (g *GalleryState) Neighbor(id string, dir Direction) (*model.CompletedItem, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	completed := g.completedLocked()
	n := len(completed)
	for i, c := range completed {
		if c.ID != id {
			continue
		}
		switch dir {
		case Prev:
			return completed[(i-1+n)%n], true
		default:
			return completed[(i+1)%n], true
		}
	}
	return nil, false
}

// SetGenerating moves the in-flight batch counter. The generating flag is
// true while at least one batch is unsettled.
func (g *GalleryState) SetGenerating(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	was := g.inFlight > 0
	if on {
		g.inFlight++
	} else if g.inFlight > 0 {
		g.inFlight--
	}
	if now := g.inFlight > 0; now != was {
		g.publish(GalleryEvent{Type: EventGeneratingChanged, Generating: now})
	}
}

func (g *GalleryState) IsGenerating() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inFlight > 0
}

// Hydrate appends stored records as completed items. It runs once; later
// calls return false. Records already shown (completed earlier in this
// process) are skipped.
func (g *GalleryState) Hydrate(records []*model.StoredImageRecord) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded {
		return false
	}
	g.loaded = true

	seen := make(map[string]struct{})
	for _, c := range g.completedLocked() {
		seen[c.RecordID] = struct{}{}
	}
	added := make([]model.GalleryItem, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		h := g.handles.Mint(r.Image, r.MIMEType)
		added = append(added, model.CompletedFromRecord(r, h))
	}
	g.items = append(g.items, added...)
	g.publish(GalleryEvent{Type: EventLoaded, Items: added})
	g.reportCounts()
	return true
}

func (g *GalleryState) Loaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loaded
}

// Subscribe registers an observer. Events that do not fit in the buffer are
// dropped for that subscriber. cancel closes the channel.
func (g *GalleryState) Subscribe(buffer int) (<-chan GalleryEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan GalleryEvent, buffer)

	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	g.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with g.mu held.
func (g *GalleryState) publish(ev GalleryEvent) {
	for _, ch := range g.subs {
		select {
		case ch <- ev:
		default:
			metrics.IncGalleryEventDropped()
		}
	}
}

func (g *GalleryState) indexOf(id string) int {
	for i, it := range g.items {
		if it.Base().ID == id {
			return i
		}
	}
	return -1
}

func (g *GalleryState) reportCounts() {
	counts := map[model.ItemStatus]int{
		model.ItemStatusPending:    0,
		model.ItemStatusGenerating: 0,
		model.ItemStatusWaiting:    0,
		model.ItemStatusCompleted:  0,
		model.ItemStatusFailed:     0,
	}
	for _, it := range g.items {
		counts[it.Status()]++
	}
	for st, n := range counts {
		metrics.SetGalleryItems(string(st), n)
	}
}
