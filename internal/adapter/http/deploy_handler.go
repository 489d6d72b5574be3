package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/service"
)

type DeployHandler struct {
	svc *service.DeployService
}

func NewDeployHandler(svc *service.DeployService) *DeployHandler {
	return &DeployHandler{svc: svc}
}

func (h *DeployHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req service.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidInput, err))
		return
	}
	result, err := h.svc.Deploy(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
