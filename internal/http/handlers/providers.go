package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
)

type providerListResponse struct {
	Kind      domain.Category `json:"kind"`
	Providers []string        `json:"providers"`
}

type resolveResponse struct {
	ContentType domain.GeneratedContentType `json:"contentType"`
	Category    domain.Category             `json:"category"`
	Subtype     string                      `json:"subtype"`
	Provider    string                      `json:"provider"`
	Model       string                      `json:"model"`
}

func (a *App) ListProviders(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseCategory(chi.URLParam(r, "kind"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	names, err := a.Factory.Available(kind)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.json(w, http.StatusOK, providerListResponse{Kind: kind, Providers: names})
}

func (a *App) ResolveProvider(w http.ResponseWriter, r *http.Request) {
	ct, err := domain.ParseContentType(r.URL.Query().Get("contentType"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	provider, model, err := a.Factory.ResolveProviderAndModel(ct)
	if err != nil {
		if errors.Is(err, providers.ErrNoDefault) {
			a.error(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	a.json(w, http.StatusOK, resolveResponse{
		ContentType: ct,
		Category:    ct.Category(),
		Subtype:     ct.Subtype(),
		Provider:    provider,
		Model:       model,
	})
}
