package handlers

import (
	"net/http"

	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
	"github.com/AndreVianna/VTTTools-sub035/internal/worker"
)

type healthResponse struct {
	Status           string        `json:"status"`
	QueueDepth       *int64        `json:"queueDepth,omitempty"`
	Worker           *worker.Stats `json:"worker,omitempty"`
	WebsocketClients int           `json:"websocketClients"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if d, ok := a.Queue.(queue.Depther); ok {
		depth, err := d.Depth(r.Context())
		if err != nil {
			a.Logger.Warn().Err(err).Msg("health: queue depth unavailable")
			resp.Status = "degraded"
		} else {
			resp.QueueDepth = &depth
		}
	}
	if a.Worker != nil {
		stats := a.Worker.Stats()
		resp.Worker = &stats
	}
	if a.Hub != nil {
		resp.WebsocketClients, _ = a.Hub.Stats()
	}
	a.json(w, http.StatusOK, resp)
}
