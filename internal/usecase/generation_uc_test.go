package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"image-studio/internal/config"
	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var (
	modelA = model.ModelDefinition{
		ID: "model-a", Name: "Model A", Provider: model.ProviderGoogle, Enabled: true,
		Capabilities: model.ModelCapabilities{SupportsAspectRatios: true, SupportsReferenceImages: true, MaxReferenceImages: 1},
	}
	modelB = model.ModelDefinition{
		ID: "model-b", Name: "Model B", Provider: model.ProviderGoogle, Enabled: true,
		Capabilities: model.ModelCapabilities{SupportsAspectRatios: true, SupportsResolution: true, SupportsReferenceImages: true, MaxReferenceImages: 3},
	}
	modelR = model.ModelDefinition{
		ID: "replicate/acme/painter", Name: "Painter", Provider: model.ProviderReplicate, Enabled: true,
	}
)

type genFixture struct {
	uc     *generationUC
	prov   *fakeProvider
	images *memImageRepo
	clk    *fakeClock
}

func newGenFixture(t *testing.T, prov *fakeProvider) *genFixture {
	t.Helper()
	repo := newMemSettingsRepo(model.APIKeys{Google: "g-key"}, modelA, modelB, modelR)
	settings, err := NewSettingsUseCase(repo, nil, config.EnvCredentials{}, newTestLogger(), false)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	images := newMemImageRepo()
	clk := newFakeClock(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))
	gallery := NewGalleryState(NewHandleRegistry(DefaultBlobPrefix))
	uc := NewGenerationUseCase(settings, images, prov, gallery, clk, testPolicy, newTestLogger())
	return &genFixture{uc: uc, prov: prov, images: images, clk: clk}
}

func TestSubmit_RedFoxFanOut(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())

	res := f.uc.Submit(context.Background(), SubmitRequest{
		Prompt:      "a red fox",
		Selections:  map[string]int{"model-a": 2, "model-b": 1},
		AspectRatio: model.AspectRatio16x9,
		Resolution:  model.Resolution2K,
	})
	if len(res.ItemIDs) != 3 || res.Completed != 3 || res.Failed != 0 {
		t.Fatalf("unexpected batch result %+v", res)
	}

	tasks := f.prov.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.ID] {
			t.Fatalf("task ids must be distinct")
		}
		seen[task.ID] = true
		if task.Prompt != "a red fox" || task.AspectRatio != model.AspectRatio16x9 {
			t.Fatalf("unexpected task params %+v", task)
		}
		switch task.ModelID {
		case "model-a":
			if task.Resolution != model.ResolutionUnset {
				t.Fatalf("model-a lacks resolution support, got %q", task.Resolution)
			}
		case "model-b":
			if task.Resolution != model.Resolution2K {
				t.Fatalf("model-b should carry 2K, got %q", task.Resolution)
			}
		}
	}

	if n, _ := f.images.Count(context.Background()); n != 3 {
		t.Fatalf("expected 3 stored images, got %d", n)
	}
	completed := f.uc.Gallery().Completed()
	if len(completed) != 3 {
		t.Fatalf("expected 3 completed items, got %d", len(completed))
	}
	for _, c := range completed {
		if c.RecordID == "" || c.Handle.URL == "" || !c.CreatedAt.Equal(f.clk.Now()) {
			t.Fatalf("completed item missing store fields: %+v", c)
		}
	}
	if f.uc.Gallery().IsGenerating() {
		t.Fatalf("generating flag should be cleared once the batch settled")
	}
}

func TestSubmit_SkipsUnknownAndZeroCounts(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())

	res := f.uc.Submit(context.Background(), SubmitRequest{
		Prompt:     "p",
		Selections: map[string]int{"model-a": 0, "nope": 4, "model-b": 1},
	})
	if len(res.ItemIDs) != 1 {
		t.Fatalf("expected a single task, got %d", len(res.ItemIDs))
	}
	if got := len(f.uc.Gallery().Items()); got != 1 {
		t.Fatalf("expected one gallery item, got %d", got)
	}

	empty := f.uc.Submit(context.Background(), SubmitRequest{Prompt: "p", Selections: map[string]int{"nope": 1}})
	if len(empty.ItemIDs) != 0 || f.uc.Gallery().IsGenerating() {
		t.Fatalf("an empty submission should do nothing")
	}
}

func TestSubmit_ClampsReferenceImages(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	refs := []model.ReferenceImage{
		{ID: "r1", Data: []byte("1")},
		{ID: "r2", Data: []byte("2")},
		{ID: "r3", Data: []byte("3")},
		{ID: "r4", Data: []byte("4")},
	}
	f.uc.Submit(context.Background(), SubmitRequest{
		Prompt:          "p",
		Selections:      map[string]int{"model-a": 1, "model-b": 1},
		ReferenceImages: refs,
	})

	for _, task := range f.prov.Tasks() {
		want := 1
		if task.ModelID == "model-b" {
			want = 3
		}
		if len(task.ReferenceImages) != want || len(task.ReferenceImageIDs) != want {
			t.Fatalf("%s: expected %d refs, got %d", task.ModelID, want, len(task.ReferenceImages))
		}
	}
}

func TestSubmit_FailuresAreRecordedPerItem(t *testing.T) {
	prov := newFakeProvider()
	prov.byModel["model-a"] = adapter.Permanent(domain.ErrNoImage)
	f := newGenFixture(t, prov)

	res := f.uc.Submit(context.Background(), SubmitRequest{
		Prompt:     "p",
		Selections: map[string]int{"model-a": 1, "model-b": 1, "replicate/acme/painter": 1},
	})
	if res.Completed != 1 || res.Failed != 2 {
		t.Fatalf("expected 1 completed / 2 failed, got %+v", res)
	}

	var failed []*model.FailedItem
	for _, it := range f.uc.Gallery().Items() {
		if fi, ok := it.(*model.FailedItem); ok {
			failed = append(failed, fi)
		}
	}
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed items, got %d", len(failed))
	}
	for _, fi := range failed {
		if !fi.CanRetry || fi.Error == "" {
			t.Fatalf("failed items must be retryable with a message: %+v", fi)
		}
	}
}

func TestSubmit_PersistFailureMarksFailed(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	f.images.saveErr = errBoom

	res := f.uc.Submit(context.Background(), SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})
	if res.Failed != 1 {
		t.Fatalf("expected the task to fail, got %+v", res)
	}
	it, _ := f.uc.Gallery().Get(res.ItemIDs[0])
	if it.Status() != model.ItemStatusFailed {
		t.Fatalf("an unsaved image must not be shown as completed, got %s", it.Status())
	}
	if f.uc.Gallery().Handles().Len() != 0 {
		t.Fatalf("no handle should be minted for an unsaved image")
	}
}

func TestSubmit_RateLimitedTaskCompletes(t *testing.T) {
	rl := &adapter.RateLimitError{Provider: model.ProviderGoogle, RetryAfter: 5 * time.Second}
	f := newGenFixture(t, newFakeProvider(rl, rl, rl))

	res := f.uc.Submit(context.Background(), SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})
	if res.Completed != 1 {
		t.Fatalf("expected completion, got %+v", res)
	}
	if f.clk.TotalSlept() < 15*time.Second {
		t.Fatalf("expected >= 15s simulated wait, got %v", f.clk.TotalSlept())
	}
}

func TestRetryItem(t *testing.T) {
	prov := newFakeProvider()
	prov.byModel["model-b"] = errBoom
	f := newGenFixture(t, prov)
	ctx := context.Background()

	res := f.uc.Submit(ctx, SubmitRequest{
		Prompt:          "p",
		Selections:      map[string]int{"model-b": 1},
		Resolution:      model.Resolution4K,
		ReferenceImages: []model.ReferenceImage{{ID: "r1", Data: []byte("x")}},
	})
	id := res.ItemIDs[0]

	if err := f.uc.RetryItem(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	prov.mu.Lock()
	delete(prov.byModel, "model-b")
	prov.mu.Unlock()

	if err := f.uc.RetryItem(ctx, id); err != nil {
		t.Fatalf("RetryItem: %v", err)
	}
	it, _ := f.uc.Gallery().Get(id)
	if it.Status() != model.ItemStatusCompleted {
		t.Fatalf("expected completed after retry, got %s", it.Status())
	}

	tasks := prov.Tasks()
	var last model.GenerationTask
	for _, task := range tasks {
		if len(task.ReferenceImages) == 0 {
			last = task
		}
	}
	if last.ID != id || last.Resolution != model.Resolution4K {
		t.Fatalf("retry should reuse the item's id and parameters without refs: %+v", last)
	}

	if err := f.uc.RetryItem(ctx, id); !errors.Is(err, domain.ErrNotRetryable) {
		t.Fatalf("completed items are not retryable, got %v", err)
	}
}

func TestStartRetry_ConcurrentCallsDispatchOnce(t *testing.T) {
	prov := newFakeProvider()
	prov.byModel["model-a"] = errBoom
	f := newGenFixture(t, prov)
	ctx := context.Background()

	id := f.uc.Submit(ctx, SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}}).ItemIDs[0]
	callsBefore := prov.TotalCalls()

	prov.mu.Lock()
	delete(prov.byModel, "model-a")
	prov.block = make(chan struct{})
	prov.mu.Unlock()

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []<-chan struct{}
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			done, err := f.uc.StartRetry(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, done)
			case errors.Is(err, domain.ErrNotRetryable):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(accepted) != 1 || rejected != callers-1 {
		t.Fatalf("accepted %d, rejected %d; want exactly one retry", len(accepted), rejected)
	}
	close(prov.block)
	<-accepted[0]

	if got := prov.TotalCalls() - callsBefore; got != 1 {
		t.Fatalf("provider called %d times for one retry", got)
	}
	if n, _ := f.images.Count(ctx); n != 1 {
		t.Fatalf("expected one stored record, got %d", n)
	}
	if it, _ := f.uc.Gallery().Get(id); it.Status() != model.ItemStatusCompleted {
		t.Fatalf("expected completed, got %s", it.Status())
	}
}

func TestDismissItem_Idempotent(t *testing.T) {
	prov := newFakeProvider()
	prov.byModel["model-a"] = errBoom
	f := newGenFixture(t, prov)

	res := f.uc.Submit(context.Background(), SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})
	id := res.ItemIDs[0]

	if err := f.uc.DismissItem(id); err != nil {
		t.Fatalf("first dismiss: %v", err)
	}
	before := f.uc.Gallery().Items()
	if err := f.uc.DismissItem(id); err != nil {
		t.Fatalf("second dismiss: %v", err)
	}
	if len(f.uc.Gallery().Items()) != len(before) || len(before) != 0 {
		t.Fatalf("second dismiss must not change state")
	}
}

func TestDismissItem_RejectsCompleted(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	res := f.uc.Submit(context.Background(), SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})

	if err := f.uc.DismissItem(res.ItemIDs[0]); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if n, _ := f.images.Count(context.Background()); n != 1 {
		t.Fatalf("dismiss must not touch the store")
	}
}

func TestDeleteItem_RoundTrip(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	ctx := context.Background()
	res := f.uc.Submit(ctx, SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})
	id := res.ItemIDs[0]
	it, _ := f.uc.Gallery().Get(id)
	handle := it.(*model.CompletedItem).Handle

	if err := f.uc.DeleteItem(ctx, id); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, ok := f.uc.Gallery().Get(id); ok {
		t.Fatalf("item still in gallery")
	}
	recs, _ := f.images.ListAll(ctx)
	if len(recs) != 0 {
		t.Fatalf("record still in store")
	}
	if _, _, ok := f.uc.Gallery().Handles().Resolve(handle.ID); ok {
		t.Fatalf("handle should be released")
	}
}

func TestDeleteItem_StoreFailureLeavesGallery(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	ctx := context.Background()
	res := f.uc.Submit(ctx, SubmitRequest{Prompt: "p", Selections: map[string]int{"model-a": 1}})
	f.images.deleteErr = errBoom

	if err := f.uc.DeleteItem(ctx, res.ItemIDs[0]); !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, ok := f.uc.Gallery().Get(res.ItemIDs[0]); !ok {
		t.Fatalf("gallery must be unchanged on store failure")
	}
}

func TestLoadGallery_Once(t *testing.T) {
	f := newGenFixture(t, newFakeProvider())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = f.images.Save(ctx, &model.StoredImageRecord{
			Image:     []byte{byte(i)},
			MIMEType:  "image/png",
			ModelID:   "model-a",
			CreatedAt: f.clk.Now().Add(time.Duration(i) * time.Minute),
		})
	}

	f.images.listErr = errBoom
	if err := f.uc.LoadGallery(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("expected list error, got %v", err)
	}
	f.images.listErr = nil

	if err := f.uc.LoadGallery(ctx); err != nil {
		t.Fatalf("LoadGallery: %v", err)
	}
	if err := f.uc.LoadGallery(ctx); err != nil {
		t.Fatalf("second LoadGallery: %v", err)
	}
	if f.images.listCalls != 2 {
		t.Fatalf("expected one successful listing after the failure, got %d calls", f.images.listCalls)
	}

	items := f.uc.Gallery().Completed()
	if len(items) != 2 || items[0].ID != "rec-002" {
		t.Fatalf("expected newest first, got %+v", items)
	}
}
