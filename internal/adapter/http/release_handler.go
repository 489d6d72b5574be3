package http

import (
	"net/http"
	"strconv"

	"github.com/chiwei-platform/deployd/internal/service"
	"github.com/go-chi/chi/v5"
)

type ReleaseHandler struct {
	svc *service.ReleaseService
}

func NewReleaseHandler(svc *service.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{svc: svc}
}

func (h *ReleaseHandler) List(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "app")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	releases, err := h.svc.ListReleases(r.Context(), appName, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app_name": appName, "releases": releases})
}

func (h *ReleaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	release, err := h.svc.GetRelease(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, release)
}
