package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chiwei-platform/deployd/internal/domain"
)

type errorBody struct {
	Error     string                   `json:"error"`
	JobID     string                   `json:"job_id,omitempty"`
	Resources []domain.ResourceOutcome `json:"resources,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError 统一把领域错误映射为 HTTP 状态码。500 同样返回底层错误信息，方便排障。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var convErr *domain.ConvergenceError
	switch {
	case errors.As(err, &convErr):
		body.JobID = convErr.JobID
		if convErr.Report != nil {
			body.Resources = convErr.Report.Resources
		}
		slog.Error("deploy failed", "job_id", convErr.JobID, "error", err)
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("internal error", "error", err)
	}

	writeJSON(w, status, body)
}
