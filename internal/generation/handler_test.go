package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndreVianna/VTTTools-sub035/internal/clients"
	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/jobs"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type fakeTracker struct {
	mu       sync.Mutex
	items    []domain.ItemStatusUpdate
	counts   []domain.JobCounts
	statuses []domain.JobStatusUpdate
	progress []domain.ProgressEvent

	// slowEarlyCounts delays low counters so unordered pushes would land last.
	slowEarlyCounts bool
}

func (f *fakeTracker) UpdateItemStatus(_ context.Context, u domain.ItemStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, u)
	return nil
}

func (f *fakeTracker) UpdateJobCounts(_ context.Context, c domain.JobCounts) error {
	if f.slowEarlyCounts {
		time.Sleep(time.Duration(10-c.CompletedItems-c.FailedItems) * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, c)
	return nil
}

func (f *fakeTracker) UpdateJobStatus(_ context.Context, u domain.JobStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, u)
	return nil
}

func (f *fakeTracker) BroadcastProgress(_ context.Context, e domain.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, e)
	return nil
}

func (f *fakeTracker) terminalItems() map[domain.JobItemStatus]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[domain.JobItemStatus]int{}
	for _, u := range f.items {
		if u.Status.IsTerminal() {
			out[u.Status]++
		}
	}
	return out
}

func (f *fakeTracker) jobStatuses() []domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, s.Status)
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]domain.ResourceUpload
	deleted []uuid.UUID
	err     error
}

func (f *fakeStore) Upload(_ context.Context, up domain.ResourceUpload) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = map[uuid.UUID]domain.ResourceUpload{}
	}
	id := uuid.New()
	f.uploads[id] = up
	return id, nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLinker struct {
	mu    sync.Mutex
	links []clients.Link
	err   error
}

func (f *fakeLinker) Attach(_ context.Context, link clients.Link) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, link)
	return nil
}

type recordingSink struct {
	count atomic.Int32
}

func (s *recordingSink) Publish(context.Context, domain.ProgressEvent) error {
	s.count.Add(1)
	return nil
}

// scriptedVendor fails every request whose prompt mentions "broken".
type scriptedVendor struct {
	name    string
	calls   atomic.Int32
	prompts sync.Map
	image   []byte
}

func (v *scriptedVendor) Name() string { return v.name }

func (v *scriptedVendor) GenerateImage(_ context.Context, req providers.ImageRequest) domain.Result[[]byte] {
	v.calls.Add(1)
	v.prompts.Store(req.Prompt, req)
	if strings.Contains(req.Prompt, "broken") {
		return domain.Failure[[]byte](v.name+" API error 500: Internal Server Error", v.name)
	}
	if v.image != nil {
		return domain.Success(v.image)
	}
	return domain.Success([]byte("png:" + req.Prompt))
}

func (v *scriptedVendor) GenerateAudio(_ context.Context, req providers.AudioRequest) domain.Result[[]byte] {
	v.calls.Add(1)
	v.prompts.Store(req.Prompt, req)
	return domain.Success([]byte("mp3"))
}

func (v *scriptedVendor) GenerateText(_ context.Context, req providers.TextRequest) domain.Result[string] {
	v.calls.Add(1)
	return domain.Success("A wiry goblin with a crooked grin.")
}

func (v *scriptedVendor) EnhancePrompt(_ context.Context, req providers.PromptRequest) domain.Result[string] {
	v.calls.Add(1)
	if strings.Contains(req.Prompt, "unenhanceable") {
		return domain.Failure[string]("Unexpected error: boom", v.name)
	}
	return domain.Success("ENHANCED " + req.Prompt)
}

type harness struct {
	handlerDeps Deps
	vendor      *scriptedVendor
	tracker     *fakeTracker
	store       *fakeStore
	links       *fakeLinker
	ledger      jobs.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src, err := config.NewStatic(config.ProviderSettings{
		Defaults: map[string]map[string]config.Selection{
			"image":  {"_default": {Provider: "Fake", Model: "fake-image-1"}},
			"text":   {"_default": {Provider: "Fake", Model: "fake-text-1"}},
			"prompt": {"_default": {Provider: "Fake", Model: "fake-text-1"}},
		},
	})
	require.NoError(t, err)
	vendor := &scriptedVendor{name: "Fake"}
	factory, err := providers.NewFactory(src, vendor)
	require.NoError(t, err)

	h := &harness{
		vendor:  vendor,
		tracker: &fakeTracker{},
		store:   &fakeStore{},
		links:   &fakeLinker{},
		ledger:  jobs.NewLedger(time.Hour),
	}
	h.handlerDeps = Deps{
		Factory:   factory,
		Ledger:    h.ledger,
		Serial:    jobs.NewSerializer(),
		Tracker:   h.tracker,
		Resources: h.store,
		Links:     h.links,
	}
	return h
}

func (h *harness) handle(ctx context.Context, item domain.QueueItem) error {
	return New(h.handlerDeps).Handle(ctx, item)
}

func queueItem(jobID uuid.UUID, index, total int, ct domain.GeneratedContentType, name string) domain.QueueItem {
	return domain.QueueItem{
		JobID:      jobID,
		JobType:    "BulkAssetGeneration",
		Index:      index,
		TotalItems: total,
		OwnerID:    uuid.New(),
		Work: domain.WorkSpec{
			ContentType: ct,
			EntityID:    uuid.New(),
			Input:       domain.GenerationInput{Name: name, Category: "Creature", Type: "Goblin"},
		},
	}
}

func TestJobWithPartialFailures(t *testing.T) {
	h := newHarness(t)
	h.tracker.slowEarlyCounts = true
	jobID := uuid.New()
	broken := map[int]bool{2: true, 5: true, 7: true}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		name := "goblin"
		if broken[i] {
			name = "broken goblin"
		}
		wg.Add(1)
		go func(item domain.QueueItem) {
			defer wg.Done()
			_ = h.handle(context.Background(), item)
		}(queueItem(jobID, i, 10, domain.ImageToken, name))
	}
	wg.Wait()

	terminal := h.tracker.terminalItems()
	assert.Equal(t, 7, terminal[domain.JobItemStatusCompleted])
	assert.Equal(t, 3, terminal[domain.JobItemStatusFailed])

	statuses := h.tracker.jobStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.JobStatusRunning, statuses[0])
	assert.Equal(t, domain.JobStatusPartiallyFailed, statuses[1])
	final := h.tracker.statuses[1]
	assert.NotNil(t, final.ActualDurationMs)
	require.NotNil(t, final.CompletedItems)
	require.NotNil(t, final.FailedItems)
	assert.Equal(t, 7, *final.CompletedItems)
	assert.Equal(t, 3, *final.FailedItems)

	require.Len(t, h.tracker.counts, 10)
	last := h.tracker.counts[len(h.tracker.counts)-1]
	assert.Equal(t, 7, last.CompletedItems)
	assert.Equal(t, 3, last.FailedItems)
	for i, c := range h.tracker.counts {
		assert.Equal(t, i+1, c.CompletedItems+c.FailedItems, "counts pushed out of order")
	}

	require.Len(t, h.tracker.progress, 10)
	seen := map[int]bool{}
	for _, e := range h.tracker.progress {
		seen[e.CurrentItem] = true
		assert.Equal(t, 10, e.TotalItems)
	}
	assert.Len(t, seen, 10)

	for _, u := range h.tracker.items {
		if u.Status == domain.JobItemStatusFailed {
			assert.Equal(t, "Fake API error 500: Internal Server Error", u.ErrorMessage)
		}
	}
}

func TestUploadedResourceIsTheLinkedResource(t *testing.T) {
	h := newHarness(t)
	jobID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.handle(context.Background(), queueItem(jobID, i, 3, domain.ImagePortrait, "Grak")))
	}
	require.Len(t, h.links.links, 3)
	for _, link := range h.links.links {
		up, ok := h.store.uploads[link.ResourceID]
		require.True(t, ok, "linked resource %s was never uploaded", link.ResourceID)
		assert.Equal(t, "image/png", up.ContentType)
		assert.Equal(t, "Portrait", up.Role)
		assert.Equal(t, "grak_portrait.png", up.FileName)
		assert.Equal(t, domain.ImagePortrait, link.ContentType)
	}
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCompleted}, h.tracker.jobStatuses())
}

func TestCancelledJobSkipsRemainingItems(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.handlerDeps.Progress = sink
	jobID := uuid.New()

	require.NoError(t, h.handle(context.Background(), queueItem(jobID, 0, 3, domain.ImageToken, "goblin")))
	require.NoError(t, h.ledger.Cancel(context.Background(), jobID))

	for i := 1; i < 3; i++ {
		err := h.handle(context.Background(), queueItem(jobID, i, 3, domain.ImageToken, "goblin"))
		assert.ErrorIs(t, err, ErrItemFailed)
	}

	assert.EqualValues(t, 1, h.vendor.calls.Load())
	cancelled := 0
	for _, u := range h.tracker.items {
		if u.ErrorMessage == CancelledMessage {
			cancelled++
			assert.Equal(t, domain.JobItemStatusFailed, u.Status)
		}
	}
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCancelled}, h.tracker.jobStatuses())
	assert.EqualValues(t, 3, sink.count.Load())
}

func TestLinkFailureDeletesOrphanedResource(t *testing.T) {
	h := newHarness(t)
	h.links.err = errors.New("assets: unexpected status 404")

	err := h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin"))
	require.ErrorIs(t, err, ErrItemFailed)
	require.Len(t, h.store.uploads, 1)
	require.Len(t, h.store.deleted, 1)
	for id := range h.store.uploads {
		assert.Equal(t, id, h.store.deleted[0])
	}
	assert.Contains(t, h.tracker.items[len(h.tracker.items)-1].ErrorMessage, "link failed")
	assert.Equal(t, domain.JobStatusFailed, h.tracker.jobStatuses()[1])
}

func TestMissingDefaultFailsItem(t *testing.T) {
	h := newHarness(t)
	err := h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.AudioAmbient, "tavern"))
	require.ErrorIs(t, err, ErrItemFailed)
	last := h.tracker.items[len(h.tracker.items)-1]
	assert.Equal(t, "No default configured for Audio:Ambient", last.ErrorMessage)
	assert.Zero(t, h.vendor.calls.Load())
}

func TestExplicitProviderOverride(t *testing.T) {
	h := newHarness(t)
	item := queueItem(uuid.New(), 0, 1, domain.AudioEffect, "door creak")
	item.Work.Input.Provider = "Fake"
	item.Work.Input.Model = "fake-sfx"
	require.NoError(t, h.handle(context.Background(), item))

	var got providers.AudioRequest
	h.vendor.prompts.Range(func(_, v any) bool {
		got = v.(providers.AudioRequest)
		return false
	})
	assert.Equal(t, "fake-sfx", got.Model)
	assert.Equal(t, 3.0, got.DurationSeconds)
	assert.False(t, got.Loop)
}

func TestTextDescriptionAttachesText(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.TextDescription, "goblin")))
	assert.Empty(t, h.store.uploads)
	require.Len(t, h.links.links, 1)
	assert.Equal(t, "A wiry goblin with a crooked grin.", h.links.links[0].Text)
	assert.JSONEq(t, `{"text":"A wiry goblin with a crooked grin.","provider":"Fake","model":"fake-text-1"}`,
		string(h.tracker.items[len(h.tracker.items)-1].Output))
}

func TestEnhancePrompt(t *testing.T) {
	h := newHarness(t)
	item := queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin")
	item.Work.Input.EnhancePrompt = true
	require.NoError(t, h.handle(context.Background(), item))

	var prompt string
	h.vendor.prompts.Range(func(k, _ any) bool {
		prompt = k.(string)
		return false
	})
	assert.True(t, strings.HasPrefix(prompt, "ENHANCED A creature goblin named goblin"), prompt)
}

func TestEnhancementFailureKeepsOriginalPrompt(t *testing.T) {
	h := newHarness(t)
	item := queueItem(uuid.New(), 0, 1, domain.ImageToken, "unenhanceable")
	item.Work.Input.EnhancePrompt = true
	require.NoError(t, h.handle(context.Background(), item))

	var prompt string
	h.vendor.prompts.Range(func(k, _ any) bool {
		prompt = k.(string)
		return false
	})
	assert.True(t, strings.HasPrefix(prompt, "A creature goblin named unenhanceable"), prompt)
}

func TestInvalidWorkSpecFailsWithoutProviderCall(t *testing.T) {
	h := newHarness(t)
	item := queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin")
	item.Work.EntityID = uuid.Nil
	require.ErrorIs(t, h.handle(context.Background(), item), ErrItemFailed)
	assert.Zero(t, h.vendor.calls.Load())
}

func TestExpiredItemContextStillSettles(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.handlerDeps.Tracker = &ctxCheckingTracker{fakeTracker: h.tracker, t: t}
	_ = h.handle(ctx, queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin"))
	assert.Len(t, h.tracker.jobStatuses(), 2)
}

// ctxCheckingTracker fails the test when a settlement call sees a dead context.
type ctxCheckingTracker struct {
	*fakeTracker
	t *testing.T
}

func (c *ctxCheckingTracker) UpdateJobStatus(ctx context.Context, u domain.JobStatusUpdate) error {
	if u.Status.IsTerminal() && ctx.Err() != nil {
		c.t.Errorf("terminal status sent with expired context")
	}
	return c.fakeTracker.UpdateJobStatus(ctx, u)
}

func TestWorkersInSeparateProcessesShareOneLedger(t *testing.T) {
	h := newHarness(t)
	api := h.handlerDeps
	worker := h.handlerDeps
	api.Serial = jobs.NewSerializer()
	worker.Serial = jobs.NewSerializer()

	ctx := context.Background()
	jobID := uuid.New()
	require.NoError(t, h.ledger.Open(ctx, jobID, 4))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		deps := api
		if i%2 == 1 {
			deps = worker
		}
		wg.Add(1)
		go func(deps Deps, item domain.QueueItem) {
			defer wg.Done()
			_ = New(deps).Handle(ctx, item)
		}(deps, queueItem(jobID, i, 4, domain.ImageToken, "goblin"))
	}
	wg.Wait()

	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCompleted}, h.tracker.jobStatuses())

	// A cancel recorded through one process is seen by the other.
	next := uuid.New()
	require.NoError(t, h.ledger.Open(ctx, next, 2))
	require.NoError(t, New(api).Handle(ctx, queueItem(next, 0, 2, domain.ImageToken, "goblin")))
	require.NoError(t, h.ledger.Cancel(ctx, next))
	err := New(worker).Handle(ctx, queueItem(next, 1, 2, domain.ImageToken, "goblin"))
	require.ErrorIs(t, err, ErrItemFailed)
	statuses := h.tracker.jobStatuses()
	assert.Equal(t, domain.JobStatusCancelled, statuses[len(statuses)-1])
}

type panickingStore struct{}

func (panickingStore) Upload(context.Context, domain.ResourceUpload) (uuid.UUID, error) {
	panic("storage driver exploded")
}

func (panickingStore) Delete(context.Context, uuid.UUID) error { return nil }

func TestPanicDuringGenerationFailsItem(t *testing.T) {
	h := newHarness(t)
	h.handlerDeps.Resources = panickingStore{}

	err := h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin"))
	require.ErrorIs(t, err, ErrItemFailed)

	last := h.tracker.items[len(h.tracker.items)-1]
	assert.Equal(t, domain.JobItemStatusFailed, last.Status)
	assert.Equal(t, "Unexpected error: storage driver exploded", last.ErrorMessage)
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusFailed}, h.tracker.jobStatuses())
}

func TestProviderOverrideMatchesConfiguredProviderIgnoringCase(t *testing.T) {
	h := newHarness(t)
	item := queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin")
	item.Work.Input.Provider = "fake"
	require.NoError(t, h.handle(context.Background(), item))

	var got providers.ImageRequest
	h.vendor.prompts.Range(func(_, v any) bool {
		got = v.(providers.ImageRequest)
		return false
	})
	assert.Equal(t, "fake-image-1", got.Model)
}

func TestPortraitGetsThumbnail(t *testing.T) {
	h := newHarness(t)
	img := image.NewRGBA(image.Rect(0, 0, 512, 768))
	for x := 0; x < 512; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	h.vendor.image = buf.Bytes()

	require.NoError(t, h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.ImagePortrait, "Grak")))

	var out struct {
		ResourceID  uuid.UUID `json:"resourceId"`
		ThumbnailID uuid.UUID `json:"thumbnailId"`
	}
	require.NoError(t, json.Unmarshal(h.tracker.items[len(h.tracker.items)-1].Output, &out))
	require.Len(t, h.store.uploads, 2)

	thumb, ok := h.store.uploads[out.ThumbnailID]
	require.True(t, ok)
	assert.Equal(t, "Thumbnail", thumb.Role)
	assert.Equal(t, "grak_portrait_thumb.png", thumb.FileName)
	cfg, err := png.DecodeConfig(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Height)
	assert.Equal(t, 170, cfg.Width)

	require.Len(t, h.links.links, 1)
	assert.Equal(t, out.ResourceID, h.links.links[0].ResourceID)
}

func TestTokenHasNoThumbnail(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.handle(context.Background(), queueItem(uuid.New(), 0, 1, domain.ImageToken, "goblin")))
	assert.Len(t, h.store.uploads, 1)
	assert.NotContains(t, string(h.tracker.items[len(h.tracker.items)-1].Output), "thumbnailId")
}
