package http

import (
	"net/http"
	"time"

	"github.com/chiwei-platform/deployd/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(
	deployH *DeployHandler,
	statusH *StatusHandler,
	logH *LogHandler,
	releaseH *ReleaseHandler,
	wsH *WSHandler,
	apiToken string,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(apiToken))

		r.Post("/deploy", deployH.Deploy)
		r.Get("/status/{jobId}", statusH.Get)

		r.Route("/logs/{jobId}", func(r chi.Router) {
			r.Get("/", logH.Stream)
			r.Get("/history", logH.History)
		})

		r.Get("/apps/{app}/releases", releaseH.List)
		r.Get("/releases/{jobId}", releaseH.Get)

		r.Get("/ws", wsH.Serve)
	})

	return r
}
