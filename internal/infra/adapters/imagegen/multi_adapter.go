// File: internal/infra/adapters/imagegen/multi_adapter.go
package imagegen

import (
	"context"
	"fmt"
	"strings"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var _ adapter.ImageProvider = (*MultiImageAdapter)(nil)

// MultiImageAdapter dispatches a task to the adapter registered for its provider.
type MultiImageAdapter struct {
	byProvider map[model.Provider]adapter.ImageProvider
}

func NewMultiImageAdapter(byProvider map[model.Provider]adapter.ImageProvider) *MultiImageAdapter {
	return &MultiImageAdapter{byProvider: byProvider}
}

// resolveProvider uses the task's provider, falling back to model id prefixes
// for tasks built without one.
func resolveProvider(task *model.GenerationTask) model.Provider {
	if task.Provider != "" {
		return task.Provider
	}
	l := strings.ToLower(task.ModelID)
	switch {
	case strings.HasPrefix(l, "replicate/"):
		return model.ProviderReplicate
	case strings.HasPrefix(l, "gemini"):
		return model.ProviderGoogle
	case strings.HasPrefix(l, "openai/"), strings.HasPrefix(l, "gpt-image"), strings.HasPrefix(l, "dall-e"):
		return model.ProviderOpenAI
	}
	return ""
}

func (m *MultiImageAdapter) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	p := resolveProvider(task)
	a := m.byProvider[p]
	if a == nil {
		return nil, adapter.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p))
	}
	return a.Generate(ctx, task, apiKey)
}
