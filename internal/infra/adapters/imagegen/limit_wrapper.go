package imagegen

import (
	"context"

	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ImageProvider = (*limitedProvider)(nil)

type limitedProvider struct {
	inner adapter.ImageProvider
	sem   chan struct{}
}

// NewLimitedProvider caps concurrent calls into inner. maxConcurrent <= 0
// returns inner unchanged.
func NewLimitedProvider(inner adapter.ImageProvider, maxConcurrent int) adapter.ImageProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, task, apiKey)
}
