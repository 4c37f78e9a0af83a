package imagegen_test

import (
	"context"
	"errors"
	"testing"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/infra/adapters/imagegen"
)

type stubProvider struct {
	name  string
	calls int
}

func (s *stubProvider) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	s.calls++
	return &model.ImageResult{Image: []byte(s.name)}, nil
}

func TestRouting_ByProvider_PrefixFallback_Unknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := &stubProvider{name: "google"}
	r := &stubProvider{name: "replicate"}

	m := imagegen.NewMultiImageAdapter(map[model.Provider]adapter.ImageProvider{
		model.ProviderGoogle:    g,
		model.ProviderReplicate: r,
	})

	// explicit provider wins
	_, _ = m.Generate(ctx, &model.GenerationTask{ModelID: "gemini-x", Provider: model.ProviderReplicate}, "k")
	if r.calls != 1 || g.calls != 0 {
		t.Fatalf("explicit provider should route to replicate, got g:%d r:%d", g.calls, r.calls)
	}

	// prefix heuristic when provider is empty
	_, _ = m.Generate(ctx, &model.GenerationTask{ModelID: "gemini-2.5-flash-image"}, "k")
	if g.calls != 1 {
		t.Fatalf("gemini-* should route to google")
	}

	// no adapter registered for openai
	_, err := m.Generate(ctx, &model.GenerationTask{ModelID: "openai/gpt-image-1", Provider: model.ProviderOpenAI}, "k")
	if !errors.Is(err, domain.ErrUnknownProvider) || adapter.Classify(err) != adapter.ClassTerminal {
		t.Fatalf("unknown provider should be terminal, got %v", err)
	}
}
