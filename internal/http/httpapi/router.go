package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/AndreVianna/VTTTools-sub035/internal/http/handlers"
	"github.com/AndreVianna/VTTTools-sub035/internal/middleware"
)

// NewRouter mounts every public endpoint.
func NewRouter(app *handlers.App, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs/{jobID}", func(r chi.Router) {
		r.Post("/items", app.EnqueueItems)
		r.Post("/cancel", app.CancelJob)
		r.Post("/retry", app.RetryJob)
	})

	r.Route("/v1/providers", func(r chi.Router) {
		r.Get("/resolve", app.ResolveProvider)
		r.Get("/{kind}", app.ListProviders)
	})

	if app.Hub != nil {
		r.Get("/v1/ws", app.Hub.ServeWS)
	}
	return r
}
