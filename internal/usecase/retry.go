// File: internal/usecase/retry.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/clock"
	"image-studio/internal/config"
	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/infra/logging"
	"image-studio/internal/infra/metrics"
)

// StatusSink receives the waiting/generating pushes made around each wait.
// GalleryState satisfies it.
type StatusSink interface {
	Transition(item model.GalleryItem) bool
}

// RetryEngine runs one task's provider call until it succeeds or fails for good.
// Rate-limit waits are unbounded and leave the retry counter alone; other
// transient failures back off exponentially up to policy.MaxRetries.
type RetryEngine struct {
	provider adapter.ImageProvider
	sink     StatusSink
	clock    clock.Clock
	policy   config.RetryConfig
	log      *zerolog.Logger
}

func NewRetryEngine(provider adapter.ImageProvider, sink StatusSink, clk clock.Clock, policy config.RetryConfig, logger *zerolog.Logger) *RetryEngine {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Second
	}
	if policy.DefaultRateLimitWait <= 0 {
		policy.DefaultRateLimitWait = adapter.DefaultRateLimitWait
	}
	l := logger.With().Str("component", "retry_engine").Logger()
	return &RetryEngine{provider: provider, sink: sink, clock: clk, policy: policy, log: &l}
}

// Run starts at retry and loops until a result or a terminal error. Only
// cancellation of ctx stops it early; a provider timeout is transient.
func (e *RetryEngine) Run(ctx context.Context, task *model.GenerationTask, keys model.APIKeys, retry int) (*model.ImageResult, error) {
	log := logging.With(logging.WithTaskID(ctx, task.ID), e.log)

	key := keys.Key(task.Provider)
	if key == "" {
		return nil, adapter.Permanent(fmt.Errorf("%s: %w", task.Provider, domain.ErrMissingCredential))
	}

	for {
		start := e.clock.Now()
		res, err := e.provider.Generate(ctx, task, key)
		metrics.ObserveProviderCall(string(task.Provider), task.ModelID, e.clock.Now().Sub(start).Milliseconds(), err == nil)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("generation cancelled")
			return nil, adapter.Permanent(fmt.Errorf("%w: %w", ctx.Err(), err))
		}

		var (
			wait time.Duration
			kind string
		)
		switch class := adapter.Classify(err); class {
		case adapter.ClassRateLimited:
			var rl *adapter.RateLimitError
			if errors.As(err, &rl) {
				wait = rl.RetryAfter
			}
			if wait <= 0 {
				wait = e.policy.DefaultRateLimitWait
			}
			kind = "rate_limit"
			log.Warn().Dur("wait", wait).Int("retry", retry).Msg("provider rate limited")
		case adapter.ClassTerminal:
			log.Warn().Err(err).Int("retry", retry).Msg("terminal provider error")
			return nil, err
		default:
			if retry >= e.policy.MaxRetries {
				log.Warn().Err(err).Int("retry", retry).Msg("retries exhausted")
				return nil, err
			}
			wait = e.policy.BaseBackoff << retry
			retry++
			kind = "backoff"
			log.Debug().Err(err).Dur("wait", wait).Int("retry", retry).Msg("transient provider error")
		}

		if err := e.wait(ctx, task, retry, wait, kind); err != nil {
			return nil, adapter.Permanent(err)
		}
	}
}

// wait shows the task as waiting, sleeps, then flips it back to generating.
func (e *RetryEngine) wait(ctx context.Context, task *model.GenerationTask, retry int, d time.Duration, kind string) error {
	base := model.BaseFromTask(task)
	e.sink.Transition(&model.WaitingItem{
		ItemBase:     base,
		RetryCount:   retry,
		WaitingUntil: e.clock.Now().Add(d),
		RetryAfter:   int(math.Ceil(d.Seconds())),
	})
	metrics.ObserveRetryWait(string(task.Provider), kind, d.Seconds())

	if err := e.clock.Sleep(ctx, d); err != nil {
		return err
	}
	e.sink.Transition(&model.GeneratingItem{ItemBase: base, RetryCount: retry})
	return nil
}
