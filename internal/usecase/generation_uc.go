// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"image-studio/internal/clock"
	"image-studio/internal/config"
	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/logging"
	"image-studio/internal/infra/metrics"
)

// SubmitRequest is one "generate" action: a prompt fanned out to
// Selections[modelID] tasks per model.
type SubmitRequest struct {
	Prompt          string
	Selections      map[string]int
	AspectRatio     model.AspectRatio
	Resolution      model.Resolution
	ReferenceImages []model.ReferenceImage
}

type BatchResult struct {
	BatchID   string   `json:"batchId"`
	ItemIDs   []string `json:"itemIds"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
}

// Batch is a dispatched submission. Wait blocks until every task settled.
type Batch struct {
	ID      string
	ItemIDs []string

	done      chan struct{}
	completed atomic.Int32
	failed    atomic.Int32
}

func (b *Batch) Done() <-chan struct{} { return b.done }

func (b *Batch) Wait() BatchResult {
	<-b.done
	return BatchResult{
		BatchID:   b.ID,
		ItemIDs:   b.ItemIDs,
		Completed: int(b.completed.Load()),
		Failed:    int(b.failed.Load()),
	}
}

// GenerationUseCase is the entry point for user actions on the gallery.
type GenerationUseCase interface {
	// Start registers the batch's pending items and dispatches every task.
	// It returns once the items are visible. ctx bounds the tasks' lifetime.
	Start(ctx context.Context, req SubmitRequest) *Batch
	// Submit is Start followed by Wait. Failures are recorded per item.
	Submit(ctx context.Context, req SubmitRequest) BatchResult

	StartRetry(ctx context.Context, itemID string) (<-chan struct{}, error)
	RetryItem(ctx context.Context, itemID string) error
	DismissItem(itemID string) error
	DeleteItem(ctx context.Context, itemID string) error
	LoadGallery(ctx context.Context) error

	Gallery() *GalleryState
}

var _ GenerationUseCase = (*generationUC)(nil)

type generationUC struct {
	settings SettingsUseCase
	images   repository.ImageRepository
	gallery  *GalleryState
	engine   *RetryEngine
	clock    clock.Clock
	log      *zerolog.Logger

	loadMu sync.Mutex
}

func NewGenerationUseCase(
	settings SettingsUseCase,
	images repository.ImageRepository,
	provider adapter.ImageProvider,
	gallery *GalleryState,
	clk clock.Clock,
	policy config.RetryConfig,
	logger *zerolog.Logger,
) *generationUC {
	l := logger.With().Str("component", "generation_uc").Logger()
	return &generationUC{
		settings: settings,
		images:   images,
		gallery:  gallery,
		engine:   NewRetryEngine(provider, gallery, clk, policy, logger),
		clock:    clk,
		log:      &l,
	}
}

func (uc *generationUC) Gallery() *GalleryState { return uc.gallery }

func (uc *generationUC) Submit(ctx context.Context, req SubmitRequest) BatchResult {
	return uc.Start(ctx, req).Wait()
}

func (uc *generationUC) Start(ctx context.Context, req SubmitRequest) *Batch {
	batch := &Batch{ID: uuid.NewString(), done: make(chan struct{})}
	ctx = logging.WithBatchID(ctx, batch.ID)
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "GenerationUC.Start")()

	tasks := uc.expand(req)
	if len(tasks) == 0 {
		log.Warn().Int("selections", len(req.Selections)).Msg("submission produced no tasks")
		close(batch.done)
		return batch
	}

	items := make([]model.GalleryItem, len(tasks))
	batch.ItemIDs = make([]string, len(tasks))
	for i, t := range tasks {
		items[i] = &model.PendingItem{ItemBase: model.BaseFromTask(t)}
		batch.ItemIDs[i] = t.ID
	}
	uc.gallery.AddItems(items...)
	uc.gallery.SetGenerating(true)
	log.Info().Int("tasks", len(tasks)).Str("prompt", snippet(req.Prompt)).Msg("batch submitted")

	keys := uc.settings.APIKeys()
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func(t *model.GenerationTask) {
			defer wg.Done()
			if uc.dispatch(ctx, t, keys, 0) {
				batch.completed.Add(1)
			} else {
				batch.failed.Add(1)
			}
		}(t)
	}
	go func() {
		wg.Wait()
		uc.gallery.SetGenerating(false)
		log.Info().
			Int32("completed", batch.completed.Load()).
			Int32("failed", batch.failed.Load()).
			Msg("batch settled")
		close(batch.done)
	}()
	return batch
}

// expand turns selections into tasks, ordered by model id. Unknown models
// and non-positive counts are skipped.
func (uc *generationUC) expand(req SubmitRequest) []*model.GenerationTask {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil
	}
	ratio := req.AspectRatio
	if !ratio.Valid() {
		ratio = model.AspectRatio1x1
	}

	ids := make([]string, 0, len(req.Selections))
	for id := range req.Selections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tasks []*model.GenerationTask
	for _, id := range ids {
		n := req.Selections[id]
		if n <= 0 {
			continue
		}
		def, ok := uc.settings.Lookup(id)
		if !ok {
			uc.log.Debug().Str("model_id", id).Msg("skipping unknown model")
			continue
		}

		res := model.ResolutionUnset
		if def.Capabilities.SupportsResolution && req.Resolution.Valid() {
			res = req.Resolution
		}
		refs := req.ReferenceImages
		if limit := def.Capabilities.ReferenceLimit(); len(refs) > limit {
			refs = refs[:limit]
		}
		refIDs := make([]string, len(refs))
		for i, r := range refs {
			refIDs[i] = r.ID
		}

		for i := 0; i < n; i++ {
			tasks = append(tasks, &model.GenerationTask{
				ID:                uuid.NewString(),
				ModelID:           def.ID,
				ModelName:         def.Name,
				Provider:          def.Provider,
				Prompt:            prompt,
				AspectRatio:       ratio,
				Resolution:        res,
				ReferenceImages:   refs,
				ReferenceImageIDs: refIDs,
			})
		}
	}
	return tasks
}

// dispatch runs one task to a final gallery state and reports success.
func (uc *generationUC) dispatch(ctx context.Context, t *model.GenerationTask, keys model.APIKeys, retry int) (ok bool) {
	ctx = logging.WithTaskID(ctx, t.ID)
	log := logging.With(ctx, uc.log)
	provider := string(t.Provider)

	metrics.AddTasksInFlight(1)
	defer metrics.AddTasksInFlight(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("task panicked")
			uc.fail(t, fmt.Errorf("internal error: %v", r))
			ok = false
		}
		outcome := "completed"
		if !ok {
			outcome = "failed"
		}
		metrics.IncGenerationTask(provider, outcome)
	}()

	uc.gallery.Transition(&model.GeneratingItem{ItemBase: model.BaseFromTask(t), RetryCount: retry})

	res, err := uc.engine.Run(ctx, t, keys, retry)
	if err != nil {
		log.Warn().Err(err).Str("model_id", t.ModelID).Msg("generation failed")
		uc.fail(t, err)
		return false
	}

	rec, err := uc.images.Save(ctx, &model.StoredImageRecord{
		Image:             res.Image,
		MIMEType:          res.MIMEType,
		Prompt:            t.Prompt,
		ModelID:           t.ModelID,
		ModelName:         t.ModelName,
		AspectRatio:       t.AspectRatio,
		Resolution:        t.Resolution,
		Width:             res.Width,
		Height:            res.Height,
		CreatedAt:         uc.clock.Now(),
		ReferenceImageIDs: t.ReferenceImageIDs,
		Metadata:          res.Metadata,
	})
	if err != nil {
		log.Error().Err(err).Msg("persist generated image")
		uc.fail(t, fmt.Errorf("save image: %w", err))
		return false
	}

	h := uc.gallery.Handles().Mint(rec.Image, rec.MIMEType)
	item := &model.CompletedItem{
		ItemBase:  model.BaseFromTask(t),
		RecordID:  rec.ID,
		Image:     rec.Image,
		MIMEType:  rec.MIMEType,
		Width:     rec.Width,
		Height:    rec.Height,
		CreatedAt: rec.CreatedAt,
		Metadata:  rec.Metadata,
		Handle:    h,
	}
	if !uc.gallery.Transition(item) {
		// dismissed while running; the record stays in the store
		uc.gallery.Handles().Release(h)
		log.Debug().Str("record_id", rec.ID).Msg("task settled after its item was dismissed")
	}
	log.Info().Str("record_id", rec.ID).Str("model_id", t.ModelID).Msg("image generated")
	return true
}

func (uc *generationUC) fail(t *model.GenerationTask, err error) {
	uc.gallery.Transition(&model.FailedItem{
		ItemBase: model.BaseFromTask(t),
		Error:    err.Error(),
		CanRetry: true,
	})
}

func (uc *generationUC) StartRetry(ctx context.Context, itemID string) (<-chan struct{}, error) {
	it, ok := uc.gallery.Get(itemID)
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	failed, ok := it.(*model.FailedItem)
	if !ok {
		return nil, fmt.Errorf("item %s is %s: %w", itemID, it.Status(), domain.ErrNotRetryable)
	}
	def, ok := uc.settings.Lookup(failed.ModelID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", failed.ModelID, domain.ErrUnknownModel)
	}

	res := failed.Resolution
	if !def.Capabilities.SupportsResolution {
		res = model.ResolutionUnset
	}
	// reference images are not kept for failed items
	task := &model.GenerationTask{
		ID:          failed.ID,
		ModelID:     def.ID,
		ModelName:   def.Name,
		Provider:    def.Provider,
		Prompt:      failed.Prompt,
		AspectRatio: failed.AspectRatio,
		Resolution:  res,
	}
	if !uc.gallery.TransitionFrom(model.ItemStatusFailed, &model.GeneratingItem{ItemBase: model.BaseFromTask(task)}) {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotRetryable)
	}
	uc.log.Info().Str("task_id", task.ID).Str("model_id", task.ModelID).Msg("retrying item")

	keys := uc.settings.APIKeys()
	uc.gallery.SetGenerating(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer uc.gallery.SetGenerating(false)
		uc.dispatch(ctx, task, keys, 0)
	}()
	return done, nil
}

func (uc *generationUC) RetryItem(ctx context.Context, itemID string) error {
	done, err := uc.StartRetry(ctx, itemID)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// DismissItem removes a non-completed item. Unknown ids are ignored.
func (uc *generationUC) DismissItem(itemID string) error {
	it, ok := uc.gallery.Get(itemID)
	if !ok {
		return nil
	}
	if it.Status() == model.ItemStatusCompleted {
		return fmt.Errorf("%w: completed items must be deleted", domain.ErrInvalidArgument)
	}
	uc.gallery.Remove(itemID)
	return nil
}

// DeleteItem removes a completed item from the store first; on store
// failure the gallery is left untouched.
func (uc *generationUC) DeleteItem(ctx context.Context, itemID string) error {
	it, ok := uc.gallery.Get(itemID)
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	c, ok := it.(*model.CompletedItem)
	if !ok {
		return fmt.Errorf("%w: only completed items can be deleted", domain.ErrInvalidArgument)
	}
	if err := uc.images.DeleteByID(ctx, c.RecordID); err != nil {
		return fmt.Errorf("delete image %s: %w", c.RecordID, err)
	}
	uc.gallery.Remove(itemID)
	uc.log.Info().Str("record_id", c.RecordID).Msg("image deleted")
	return nil
}

// LoadGallery hydrates the gallery from the store once. A failed load can
// be retried.
func (uc *generationUC) LoadGallery(ctx context.Context) error {
	uc.loadMu.Lock()
	defer uc.loadMu.Unlock()
	if uc.gallery.Loaded() {
		return nil
	}
	recs, err := uc.images.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	uc.gallery.Hydrate(recs)
	uc.log.Info().Int("images", len(recs)).Msg("gallery loaded")
	return nil
}

func snippet(s string) string {
	const limit = 80
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
