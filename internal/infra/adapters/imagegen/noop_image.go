package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var _ adapter.ImageProvider = (*NoopImageAdapter)(nil)

// NoopImageAdapter implements adapter.ImageProvider for local/dev testing.
// It renders a small gradient instead of calling a provider.
type NoopImageAdapter struct {
	delay time.Duration
	log   zerolog.Logger
}

func NewNoopImageAdapter(logger *zerolog.Logger) *NoopImageAdapter {
	return &NoopImageAdapter{
		delay: 100 * time.Millisecond,
		log:   logger.With().Str("component", "noop_image").Logger(),
	}
}

func (a *NoopImageAdapter) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	// Simulate slight processing time and respect ctx
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	w, h := noopSize(task.AspectRatio)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := byte(len(task.Prompt) * 37)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: byte(x * 255 / w), G: byte(y * 255 / h), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, adapter.Permanent(fmt.Errorf("noop: encode: %w", err))
	}

	a.log.Debug().Str("model", task.ModelID).Str("prompt", task.Prompt).Msg("noop image rendered")
	return &model.ImageResult{
		Image:    buf.Bytes(),
		MIMEType: "image/png",
		Width:    w,
		Height:   h,
		Metadata: map[string]any{"modelVersion": "noop"},
	}, nil
}

// noopSize scales the ratio so the long side is 256px.
func noopSize(r model.AspectRatio) (int, int) {
	rw, rh := 1, 1
	switch r {
	case model.AspectRatio16x9:
		rw, rh = 16, 9
	case model.AspectRatio9x16:
		rw, rh = 9, 16
	case model.AspectRatio4x3:
		rw, rh = 4, 3
	case model.AspectRatio3x4:
		rw, rh = 3, 4
	case model.AspectRatio21x9:
		rw, rh = 21, 9
	}
	const long = 256
	if rw >= rh {
		return long, long * rh / rw
	}
	return long * rw / rh, long
}
