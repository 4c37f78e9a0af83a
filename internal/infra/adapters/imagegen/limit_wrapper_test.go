package imagegen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-studio/internal/domain/model"
)

type slowProvider struct {
	active, peak int32
}

func (s *slowProvider) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	n := atomic.AddInt32(&s.active, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.active, -1)
	return &model.ImageResult{}, nil
}

func TestLimitedProviderCapsConcurrency(t *testing.T) {
	inner := &slowProvider{}
	p := NewLimitedProvider(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Generate(context.Background(), &model.GenerationTask{}, "")
		}()
	}
	wg.Wait()
	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", peak)
	}
}

func TestLimitedProviderHonoursContext(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	inner := providerFunc(func(ctx context.Context) {
		close(started)
		<-block
	})
	p := NewLimitedProvider(inner, 1)

	go func() { _, _ = p.Generate(context.Background(), &model.GenerationTask{}, "") }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, &model.GenerationTask{}, "")
	close(block)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while waiting for a slot, got %v", err)
	}
}

func TestLimitedProviderZeroIsPassthrough(t *testing.T) {
	inner := &slowProvider{}
	if NewLimitedProvider(inner, 0) != inner {
		t.Fatal("limit 0 should return inner")
	}
}

type providerFunc func(ctx context.Context)

func (f providerFunc) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	f(ctx)
	return &model.ImageResult{}, nil
}
