package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"image-studio/internal/domain/model"
)

// ImageProvider is the port for a single external image-generation API.
//
// Generate performs exactly one outbound generation request. Failures are
// reported as *RateLimitError when the provider throttles, as an error wrapped
// with Permanent when retrying cannot help, and as any other error otherwise.
type ImageProvider interface {
	Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error)
}

// ModelSchemaFetcher inspects a provider-hosted model to infer its capabilities.
type ModelSchemaFetcher interface {
	FetchModelInfo(ctx context.Context, modelID, apiKey string) (name string, caps model.ModelCapabilities, err error)
}

// DefaultRateLimitWait is used when a provider throttles without saying for how long.
const DefaultRateLimitWait = 10 * time.Second

// RateLimitError signals provider backpressure.
type RateLimitError struct {
	Provider   model.Provider
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s", e.Provider)
}

// RetryAfterSeconds rounds the wait up to whole seconds for display.
func (e *RateLimitError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal: the retry engine gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassRateLimited
	ClassTerminal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTerminal:
		return "terminal"
	}
	return "transient"
}

// Classify maps an adapter error onto the closed set of failure classes.
func Classify(err error) ErrorClass {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return ClassTerminal
	}
	return ClassTransient
}
