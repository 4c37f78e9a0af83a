//go:build !integration

package web

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/clock"
	"image-studio/internal/config"
	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockProvider struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (p *mockProvider) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.fail[task.ModelID]; err != nil {
		return nil, err
	}
	return &model.ImageResult{Image: []byte("\x89PNG" + task.ID), MIMEType: "image/png", Width: 1024, Height: 1024}, nil
}

type mockImageRepo struct {
	mu        sync.Mutex
	seq       int
	store     map[string]*model.StoredImageRecord
	deleteErr error
}

func (m *mockImageRepo) Save(ctx context.Context, rec *model.StoredImageRecord) (*model.StoredImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *rec
	cp.ID = fmt.Sprintf("rec-%d", m.seq)
	m.store[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockImageRepo) ListAll(ctx context.Context) ([]*model.StoredImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.StoredImageRecord, 0, len(m.store))
	for _, r := range m.store {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockImageRepo) GetByID(ctx context.Context, id string) (*model.StoredImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.store[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockImageRepo) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.store[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockImageRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

func (m *mockImageRepo) Close() error { return nil }

type mockSettingsRepo struct {
	mu sync.Mutex
	st repository.Settings
}

func (m *mockSettingsRepo) Load() (*repository.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.st
	cp.Models = append([]model.ModelDefinition(nil), m.st.Models...)
	return &cp, nil
}

func (m *mockSettingsRepo) Save(s *repository.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = *s
	m.st.Models = append([]model.ModelDefinition(nil), s.Models...)
	return nil
}

var testModels = []model.ModelDefinition{
	{
		ID: "model-a", Name: "Model A", Provider: model.ProviderGoogle, Enabled: true,
		Capabilities: model.ModelCapabilities{SupportsAspectRatios: true},
	},
	{
		ID: "replicate/acme/painter", Name: "Painter", Provider: model.ProviderReplicate, Enabled: true, IsCustom: true,
		Capabilities: model.ModelCapabilities{SupportsAspectRatios: true, SupportsResolution: true},
	},
}

type testEnv struct {
	srv      *Server
	provider *mockProvider
	images   *mockImageRepo
	settings usecase.SettingsUseCase
	gen      usecase.GenerationUseCase
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	logger := newTestLogger()
	settingsRepo := &mockSettingsRepo{st: repository.Settings{
		APIKeys: model.APIKeys{Google: "g-key-123456"},
		Models:  append([]model.ModelDefinition(nil), testModels...),
	}}
	settingsUC, err := usecase.NewSettingsUseCase(settingsRepo, nil, config.EnvCredentials{}, logger, false)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	prov := &mockProvider{fail: map[string]error{}}
	images := &mockImageRepo{store: map[string]*model.StoredImageRecord{}}
	clk := clock.NewClock()
	gallery := usecase.NewGalleryState(usecase.NewHandleRegistry(usecase.DefaultBlobPrefix))
	policy := config.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond, DefaultRateLimitWait: time.Millisecond}
	genUC := usecase.NewGenerationUseCase(settingsUC, images, prov, gallery, clk, policy, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(ctx, genUC, settingsUC, nil, apiKey, clk, logger)
	return &testEnv{srv: srv, provider: prov, images: images, settings: settingsUC, gen: genUC}
}

// waitIdle blocks until no batch is in flight.
func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for e.gen.Gallery().IsGenerating() {
		if time.Now().After(deadline) {
			t.Fatalf("generation did not settle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
