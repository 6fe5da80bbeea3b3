// Package generation holds the per-item business logic of the pipeline: it
// turns one queue item into a provider call, stores and links the artifact,
// and reports every transition to the job-tracking service.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/clients"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/jobs"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

// CancelledMessage is recorded on items skipped because their job was cancelled.
const CancelledMessage = "Job was cancelled"

const settleTimeout = 30 * time.Second

// ErrItemFailed is returned by Handle when the item ended Failed. The
// failure is already recorded with the tracking service.
var ErrItemFailed = errors.New("generation: item failed")

// JobTracker is the slice of the job-tracking service the handler needs.
type JobTracker interface {
	UpdateItemStatus(ctx context.Context, update domain.ItemStatusUpdate) error
	UpdateJobCounts(ctx context.Context, counts domain.JobCounts) error
	UpdateJobStatus(ctx context.Context, update domain.JobStatusUpdate) error
	BroadcastProgress(ctx context.Context, event domain.ProgressEvent) error
}

// ResourceStore persists generated files.
type ResourceStore interface {
	Upload(ctx context.Context, up domain.ResourceUpload) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EntityLinker attaches artifacts to the owning asset or stage.
type EntityLinker interface {
	Attach(ctx context.Context, link clients.Link) error
}

// ProgressSink receives progress events besides the tracking service.
type ProgressSink interface {
	Publish(ctx context.Context, event domain.ProgressEvent) error
}

// Deps are shared by every handler instance. Serial orders the per-job
// counter pushes of this process; handlers without one share a
// package-level instance.
type Deps struct {
	Factory   *providers.Factory
	Ledger    jobs.Store
	Serial    *jobs.Serializer
	Tracker   JobTracker
	Resources ResourceStore
	Links     EntityLinker
	Progress  ProgressSink
	Logger    *infra.Logger
	Now       func() time.Time
}

// Handler processes exactly one queue item.
type Handler struct {
	Deps
	logger zerolog.Logger
}

// New builds a handler. The worker creates one per dequeued item.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := zerolog.Nop()
	if d.Logger != nil {
		logger = d.Logger.With().Str("component", "generation").Logger()
	}
	if d.Serial == nil {
		d.Serial = defaultSerial
	}
	return &Handler{Deps: d, logger: logger}
}

var defaultSerial = jobs.NewSerializer()

type outcome struct {
	output  json.RawMessage
	failure string
}

func (o outcome) ok() bool { return o.failure == "" }

type itemOutput struct {
	ResourceID  *uuid.UUID `json:"resourceId,omitempty"`
	ThumbnailID *uuid.UUID `json:"thumbnailId,omitempty"`
	Text        string     `json:"text,omitempty"`
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`
}

// Handle runs the full lifecycle of one item. A panic while generating is
// recorded as a failed item; it returns ErrItemFailed when the item ended Failed.
func (h *Handler) Handle(ctx context.Context, item domain.QueueItem) error {
	log := h.logger.With().
		Str("job_id", item.JobID.String()).
		Int("index", item.Index).
		Str("content_type", string(item.Work.ContentType)).
		Logger()

	cancelled, err := h.Ledger.Cancelled(ctx, item.JobID)
	if err != nil {
		log.Warn().Err(err).Msg("generation: read cancel flag")
	}

	var res outcome
	if cancelled {
		log.Info().Msg("generation: job cancelled, skipping item")
		res = outcome{failure: CancelledMessage}
	} else {
		res = h.run(ctx, item, log)
	}
	// Results are recorded even when the item context already expired.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	h.settle(settleCtx, item, res, log)

	if !res.ok() {
		return fmt.Errorf("%w: %s", ErrItemFailed, res.failure)
	}
	return nil
}

func (h *Handler) run(ctx context.Context, item domain.QueueItem, log zerolog.Logger) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("generation: recovered panic")
			res = outcome{failure: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()
	h.start(ctx, item, log)
	return h.generate(ctx, item, log)
}

func (h *Handler) start(ctx context.Context, item domain.QueueItem, log zerolog.Logger) {
	begin, err := h.Ledger.Begin(ctx, item.JobID, item.TotalItems)
	if err != nil {
		log.Warn().Err(err).Msg("generation: record job start")
	}
	if begin.First {
		startedAt := begin.StartedAt.UTC()
		if err := h.Tracker.UpdateJobStatus(ctx, domain.JobStatusUpdate{
			JobID:     item.JobID,
			Status:    domain.JobStatusRunning,
			StartedAt: &startedAt,
		}); err != nil {
			log.Warn().Err(err).Msg("generation: mark job running")
		}
	}
	now := h.Now()
	if err := h.Tracker.UpdateItemStatus(ctx, domain.ItemStatusUpdate{
		JobID:     item.JobID,
		Index:     item.Index,
		Status:    domain.JobItemStatusInProgress,
		StartedAt: &now,
	}); err != nil {
		log.Warn().Err(err).Msg("generation: mark item in progress")
	}
}

func (h *Handler) generate(ctx context.Context, item domain.QueueItem, log zerolog.Logger) outcome {
	work := item.Work
	if err := work.Validate(); err != nil {
		return outcome{failure: err.Error()}
	}
	ct := work.ContentType

	provider, model, err := h.route(ct, work.Input)
	if err != nil {
		return outcome{failure: err.Error()}
	}

	prompt := BuildPrompt(work.Input)
	if work.Input.EnhancePrompt && ct.Category() != domain.CategoryPrompt {
		prompt = h.enhance(ctx, prompt, ct, work.Input, log)
	}

	log = log.With().Str("provider", provider).Str("model", model).Logger()
	started := time.Now()

	if !ct.IsBinary() {
		text := h.text(ctx, provider, model, prompt, work)
		if !text.IsSuccessful() {
			log.Warn().Str("error", text.Message()).Msg("generation: provider failed")
			return outcome{failure: text.Message()}
		}
		if ct.Category() == domain.CategoryText {
			if err := h.Links.Attach(ctx, clients.Link{ContentType: ct, EntityID: work.EntityID, Text: text.Value}); err != nil {
				return outcome{failure: fmt.Sprintf("link failed: %v", err)}
			}
		}
		log.Info().Dur("elapsed", time.Since(started)).Msg("generation: text item completed")
		return outcome{output: mustJSON(itemOutput{Text: text.Value, Provider: provider, Model: model})}
	}

	data := h.binary(ctx, provider, model, prompt, work)
	if !data.IsSuccessful() {
		log.Warn().Str("error", data.Message()).Msg("generation: provider failed")
		return outcome{failure: data.Message()}
	}

	resourceID, err := h.Resources.Upload(ctx, domain.ResourceUpload{
		OwnerID:     item.OwnerID,
		FileName:    FileName(work.Input, ct),
		ContentType: mimeTypes[ct.Category()],
		Role:        ct.Subtype(),
		Data:        data.Value,
	})
	if err != nil {
		return outcome{failure: fmt.Sprintf("upload failed: %v", err)}
	}

	if err := h.Links.Attach(ctx, clients.Link{ContentType: ct, EntityID: work.EntityID, ResourceID: resourceID}); err != nil {
		if delErr := h.Resources.Delete(context.WithoutCancel(ctx), resourceID); delErr != nil {
			log.Warn().Err(delErr).Str("resource_id", resourceID.String()).Msg("generation: delete orphaned resource")
		}
		return outcome{failure: fmt.Sprintf("link failed: %v", err)}
	}

	out := itemOutput{ResourceID: &resourceID, Provider: provider, Model: model}
	if ct == domain.ImagePortrait {
		out.ThumbnailID = h.thumbnail(ctx, item, data.Value, log)
	}

	log.Info().
		Str("resource_id", resourceID.String()).
		Int("bytes", len(data.Value)).
		Dur("elapsed", time.Since(started)).
		Msg("generation: item completed")
	return outcome{output: mustJSON(out)}
}

// thumbnail stores a scaled-down copy of a portrait. Failures are logged
// and leave the item successful.
func (h *Handler) thumbnail(ctx context.Context, item domain.QueueItem, data []byte, log zerolog.Logger) *uuid.UUID {
	thumb, err := Thumbnail(data, ThumbnailSize)
	if err != nil {
		log.Warn().Err(err).Msg("generation: build thumbnail")
		return nil
	}
	id, err := h.Resources.Upload(ctx, domain.ResourceUpload{
		OwnerID:     item.OwnerID,
		FileName:    ThumbnailName(FileName(item.Work.Input, item.Work.ContentType)),
		ContentType: "image/png",
		Role:        "Thumbnail",
		Data:        thumb,
	})
	if err != nil {
		log.Warn().Err(err).Msg("generation: upload thumbnail")
		return nil
	}
	return &id
}

// route applies explicit overrides on top of the configured default. The
// configured model only carries over when the provider is the configured one.
func (h *Handler) route(ct domain.GeneratedContentType, in domain.GenerationInput) (string, string, error) {
	provider, model, err := h.Factory.ResolveProviderAndModel(ct)
	if in.Provider == "" {
		if err != nil {
			return "", "", err
		}
		if in.Model != "" {
			model = in.Model
		}
		return provider, model, nil
	}
	if err != nil || !strings.EqualFold(in.Provider, provider) {
		model = ""
	}
	if in.Model != "" {
		model = in.Model
	}
	return in.Provider, model, nil
}

// enhance rewrites the prompt through the Prompt kind. A failed enhancement
// keeps the original prompt.
func (h *Handler) enhance(ctx context.Context, prompt string, ct domain.GeneratedContentType, in domain.GenerationInput, log zerolog.Logger) string {
	provider, model, err := h.Factory.ResolveProviderAndModel(domain.PromptEnhancement)
	if err != nil {
		log.Warn().Err(err).Msg("generation: prompt enhancement unavailable")
		return prompt
	}
	enhancer, err := h.Factory.PromptEnhancer(provider)
	if err != nil {
		log.Warn().Err(err).Msg("generation: prompt enhancement unavailable")
		return prompt
	}
	res := enhancer.EnhancePrompt(ctx, providers.PromptRequest{
		Model:      model,
		Prompt:     prompt,
		TargetType: ct,
		Context:    in.Environment,
	})
	if !res.IsSuccessful() || res.Value == "" {
		log.Warn().Str("error", res.Message()).Msg("generation: prompt enhancement failed, using original prompt")
		return prompt
	}
	return res.Value
}

func (h *Handler) binary(ctx context.Context, provider, model, prompt string, work domain.WorkSpec) domain.Result[[]byte] {
	ct := work.ContentType
	styled := WithStyle(prompt, ct)
	switch ct.Category() {
	case domain.CategoryImage:
		gen, err := h.Factory.ImageProvider(provider)
		if err != nil {
			return domain.Failure[[]byte](err.Error(), provider)
		}
		return gen.GenerateImage(ctx, providers.ImageRequest{
			Model:          model,
			Prompt:         styled,
			NegativePrompt: work.Input.NegativePrompt,
			AspectRatio:    AspectRatio(work.Input, ct),
			ContentType:    ct,
		})
	case domain.CategoryAudio:
		gen, err := h.Factory.AudioProvider(provider)
		if err != nil {
			return domain.Failure[[]byte](err.Error(), provider)
		}
		return gen.GenerateAudio(ctx, providers.AudioRequest{
			Model:           model,
			Prompt:          styled,
			DurationSeconds: Duration(work.Input, ct),
			Loop:            ct == domain.AudioAmbient,
			ContentType:     ct,
		})
	case domain.CategoryVideo:
		gen, err := h.Factory.VideoProvider(provider)
		if err != nil {
			return domain.Failure[[]byte](err.Error(), provider)
		}
		return gen.GenerateVideo(ctx, providers.VideoRequest{
			Model:          model,
			Prompt:         styled,
			NegativePrompt: work.Input.NegativePrompt,
			AspectRatio:    AspectRatio(work.Input, ct),
			ContentType:    ct,
		})
	}
	return domain.Failure[[]byte](fmt.Sprintf("%s is not a binary content type", ct), "generation")
}

func (h *Handler) text(ctx context.Context, provider, model, prompt string, work domain.WorkSpec) domain.Result[string] {
	switch work.ContentType.Category() {
	case domain.CategoryText:
		gen, err := h.Factory.TextProvider(provider)
		if err != nil {
			return domain.Failure[string](err.Error(), provider)
		}
		return gen.GenerateText(ctx, providers.TextRequest{
			Model:        model,
			Prompt:       prompt,
			Instructions: descriptionInstructions,
			MaxTokens:    400,
		})
	case domain.CategoryPrompt:
		gen, err := h.Factory.PromptEnhancer(provider)
		if err != nil {
			return domain.Failure[string](err.Error(), provider)
		}
		return gen.EnhancePrompt(ctx, providers.PromptRequest{
			Model:      model,
			Prompt:     prompt,
			TargetType: domain.ImagePortrait,
			Context:    work.Input.Environment,
		})
	}
	return domain.Failure[string](fmt.Sprintf("%s is not a text content type", work.ContentType), "generation")
}

func (h *Handler) settle(ctx context.Context, item domain.QueueItem, res outcome, log zerolog.Logger) {
	completedAt := h.Now()
	status := domain.JobItemStatusCompleted
	if !res.ok() {
		status = domain.JobItemStatusFailed
	}
	if err := h.Tracker.UpdateItemStatus(ctx, domain.ItemStatusUpdate{
		JobID:        item.JobID,
		Index:        item.Index,
		Status:       status,
		Output:       res.output,
		ErrorMessage: res.failure,
		CompletedAt:  &completedAt,
	}); err != nil {
		log.Warn().Err(err).Msg("generation: record item result")
	}

	unlock := h.Serial.Lock(item.JobID)
	defer unlock()

	tally, err := h.Ledger.Settle(ctx, item.JobID, item.TotalItems, res.ok())
	if err != nil {
		log.Error().Err(err).Msg("generation: settle item in ledger")
		return
	}
	if err := h.Tracker.UpdateJobCounts(ctx, tally.Counts(item.JobID)); err != nil {
		log.Warn().Err(err).Msg("generation: update job counts")
	}

	event := domain.ProgressEvent{
		JobID:       item.JobID,
		ItemType:    string(item.Work.ContentType),
		ItemIndex:   item.Index,
		ItemStatus:  status,
		Message:     res.failure,
		CurrentItem: tally.Processed,
		TotalItems:  tally.Total,
	}
	if err := h.Tracker.BroadcastProgress(ctx, event); err != nil {
		log.Warn().Err(err).Msg("generation: broadcast progress")
	}
	if h.Progress != nil {
		if err := h.Progress.Publish(ctx, event); err != nil {
			log.Debug().Err(err).Msg("generation: publish progress")
		}
	}

	if !tally.Done {
		return
	}
	final := tally.FinalStatus()
	update := domain.JobStatusUpdate{
		JobID:          item.JobID,
		Status:         final,
		CompletedAt:    &completedAt,
		CompletedItems: &tally.Completed,
		FailedItems:    &tally.Failed,
	}
	if !tally.StartedAt.IsZero() {
		ms := completedAt.Sub(tally.StartedAt).Milliseconds()
		update.ActualDurationMs = &ms
	}
	if err := h.Tracker.UpdateJobStatus(ctx, update); err != nil {
		log.Warn().Err(err).Msg("generation: record final job status")
	}
	log.Info().
		Str("status", string(final)).
		Int("completed", tally.Completed).
		Int("failed", tally.Failed).
		Msg("generation: job finished")
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
