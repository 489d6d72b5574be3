package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chiwei-platform/deployd/internal/service"
	"github.com/go-chi/chi/v5"
)

type LogHandler struct {
	svc *service.LogService
}

func NewLogHandler(svc *service.LogService) *LogHandler {
	return &LogHandler{svc: svc}
}

// Stream 把 Pod 日志原样转发给客户端，每读到一块就 flush，直到日志结束或客户端断开。
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	stream, err := h.svc.Stream(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				slog.Debug("log stream client gone", "job_id", jobID, "error", werr)
				return
			}
			_ = rc.Flush()
		}
		if err != nil {
			// 响应已经提交，只能记录
			if !errors.Is(err, io.EOF) && r.Context().Err() == nil {
				slog.Warn("log stream interrupted", "job_id", jobID, "error", err)
			}
			return
		}
	}
}

func (h *LogHandler) History(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	logs, err := h.svc.History(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "logs": logs})
}
