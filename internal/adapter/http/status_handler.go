package http

import (
	"net/http"

	"github.com/chiwei-platform/deployd/internal/service"
	"github.com/go-chi/chi/v5"
)

type StatusHandler struct {
	svc *service.StatusService
}

func NewStatusHandler(svc *service.StatusService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
