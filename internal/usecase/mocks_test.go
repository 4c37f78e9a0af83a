// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeClock advances virtual time on Sleep and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func (c *fakeClock) TotalSlept() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}

// fakeProvider fails the n-th call of each task with errs[n] (when set)
// and succeeds afterwards. byModel errors apply to every call.
type fakeProvider struct {
	mu      sync.Mutex
	errs    []error
	byModel map[string]error
	calls   map[string]int
	tasks   []model.GenerationTask
	keys    []string
	onCall  func()
	block   chan struct{}
}

func newFakeProvider(errs ...error) *fakeProvider {
	return &fakeProvider{errs: errs, byModel: map[string]error{}, calls: map[string]int{}}
}

func (p *fakeProvider) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	p.mu.Lock()
	n := p.calls[task.ID]
	p.calls[task.ID]++
	p.tasks = append(p.tasks, *task)
	p.keys = append(p.keys, apiKey)
	modelErr := p.byModel[task.ModelID]
	onCall, block := p.onCall, p.block
	p.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if modelErr != nil {
		return nil, modelErr
	}
	if n < len(p.errs) && p.errs[n] != nil {
		return nil, p.errs[n]
	}
	return &model.ImageResult{
		Image:    []byte("png:" + task.ID),
		MIMEType: "image/png",
		Width:    1024,
		Height:   768,
		Metadata: map[string]any{"modelVersion": "fake"},
	}, nil
}

func (p *fakeProvider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Tasks returns every task seen, ordered by model id then task id.
func (p *fakeProvider) Tasks() []model.GenerationTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.GenerationTask, len(p.tasks))
	copy(out, p.tasks)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelID != out[j].ModelID {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ adapter.ImageProvider = (*fakeProvider)(nil)

// recordingSink keeps every status push from the retry engine.
type recordingSink struct {
	mu    sync.Mutex
	items []model.GalleryItem
}

func (s *recordingSink) Transition(item model.GalleryItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return true
}

func (s *recordingSink) Items() []model.GalleryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GalleryItem, len(s.items))
	copy(out, s.items)
	return out
}

// memImageRepo is an in-memory image store.
type memImageRepo struct {
	mu        sync.RWMutex
	seq       int
	store     map[string]*model.StoredImageRecord
	saveErr   error
	deleteErr error
	listErr   error
	listCalls int
}

func newMemImageRepo() *memImageRepo {
	return &memImageRepo{store: map[string]*model.StoredImageRecord{}}
}

func (m *memImageRepo) Save(ctx context.Context, rec *model.StoredImageRecord) (*model.StoredImageRecord, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *rec
	cp.ID = fmt.Sprintf("rec-%03d", m.seq)
	m.store[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memImageRepo) ListAll(ctx context.Context) ([]*model.StoredImageRecord, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.StoredImageRecord, 0, len(m.store))
	for _, r := range m.store {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memImageRepo) GetByID(ctx context.Context, id string) (*model.StoredImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memImageRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *memImageRepo) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store), nil
}

func (m *memImageRepo) Close() error { return nil }

var _ repository.ImageRepository = (*memImageRepo)(nil)

// memSettingsRepo keeps the settings record in memory.
type memSettingsRepo struct {
	mu      sync.Mutex
	st      repository.Settings
	saves   int
	saveErr error
}

func newMemSettingsRepo(keys model.APIKeys, defs ...model.ModelDefinition) *memSettingsRepo {
	return &memSettingsRepo{st: repository.Settings{APIKeys: keys, Models: defs}}
}

func (m *memSettingsRepo) Load() (*repository.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.st
	cp.Models = append([]model.ModelDefinition(nil), m.st.Models...)
	return &cp, nil
}

func (m *memSettingsRepo) Save(s *repository.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.st = *s
	m.st.Models = append([]model.ModelDefinition(nil), s.Models...)
	return nil
}

var _ repository.SettingsRepository = (*memSettingsRepo)(nil)

// fakeSchemaFetcher answers FetchModelInfo from a fixed table.
type fakeSchemaFetcher struct {
	models map[string]model.ModelCapabilities
	gotKey string
}

func (f *fakeSchemaFetcher) FetchModelInfo(ctx context.Context, modelID, apiKey string) (string, model.ModelCapabilities, error) {
	f.gotKey = apiKey
	slug := model.ReplicateSlug(modelID)
	caps, ok := f.models[slug]
	if !ok {
		return "", model.ModelCapabilities{}, fmt.Errorf("model not found: %s: %w", slug, domain.ErrNotFound)
	}
	return "fetched " + slug, caps, nil
}

var errBoom = errors.New("boom")
