package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/jobs"
	"github.com/AndreVianna/VTTTools-sub035/internal/pipeline"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
)

const maxEnqueueBody = 4 << 20

type enqueueResponse struct {
	JobID    uuid.UUID `json:"jobId"`
	Enqueued int       `json:"enqueued"`
}

type cancelResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status string    `json:"status"`
}

type retryResponse struct {
	JobID    uuid.UUID `json:"jobId"`
	Requeued int       `json:"requeued"`
}

func (a *App) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil || id == uuid.Nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

// EnqueueItems queues the work of a job that already exists in the tracking
// service. It returns as soon as the items are queued.
func (a *App) EnqueueItems(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req pipeline.EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload: "+err.Error())
		return
	}
	n, err := a.Pipeline.Enqueue(r.Context(), jobID, req)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoItems), errors.Is(err, domain.ErrInvalidWorkItem):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, jobs.ErrJobActive), errors.Is(err, jobs.ErrJobFinished):
			a.error(w, http.StatusConflict, "conflict", "job was already enqueued")
		case errors.Is(err, queue.ErrClosed):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "queue is shutting down")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("enqueue failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		}
		return
	}
	a.json(w, http.StatusAccepted, enqueueResponse{JobID: jobID, Enqueued: n})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	if err := a.Pipeline.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, jobs.ErrUnknownJob):
			a.error(w, http.StatusNotFound, "not_found", "job is not being processed here")
		case errors.Is(err, jobs.ErrJobFinished):
			a.error(w, http.StatusConflict, "conflict", "job already finished")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		}
		return
	}
	a.json(w, http.StatusAccepted, cancelResponse{JobID: jobID, Status: "CancelRequested"})
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	n, err := a.Pipeline.Retry(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, pipeline.ErrJobActive), errors.Is(err, pipeline.ErrNothingToRetry):
			a.error(w, http.StatusConflict, "conflict", err.Error())
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("retry failed")
			a.error(w, http.StatusBadGateway, "upstream", "failed to retry job")
		}
		return
	}
	a.json(w, http.StatusAccepted, retryResponse{JobID: jobID, Requeued: n})
}
