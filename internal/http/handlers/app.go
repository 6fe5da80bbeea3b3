package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/pipeline"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
	"github.com/AndreVianna/VTTTools-sub035/internal/realtime"
	"github.com/AndreVianna/VTTTools-sub035/internal/worker"
)

// Pipeline is the producer the job endpoints drive.
type Pipeline interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, req pipeline.EnqueueRequest) (int, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
	Retry(ctx context.Context, jobID uuid.UUID) (int, error)
}

// WorkerStats is implemented by an in-process worker.
type WorkerStats interface {
	Stats() worker.Stats
}

type App struct {
	Pipeline Pipeline
	Factory  *providers.Factory
	Queue    queue.Queue
	Hub      *realtime.Hub
	Worker   WorkerStats
	Logger   zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}
