package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// WebsocketHandler is satisfied by *status.Hub; kept as an interface here
// so internal/api never imports internal/status directly.
type WebsocketHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// NewRouter builds the chi router exposing every JSON contract of the
// scanner control surface plus the live status websocket.
func NewRouter(h *Handler, ws WebsocketHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/scanner", func(r chi.Router) {
		r.Post("/start", h.StartScan)
		r.Post("/stop", h.StopScan)
		r.Get("/detections", h.Detections)
		r.Get("/config", h.GetConfig)
		r.Post("/config", h.UpdateConfig)
		r.Get("/thresholds", h.GetThresholds)
		r.Post("/thresholds", h.UpdateThresholds)
		r.Get("/frequency-groups", h.FrequencyGroups)
	})

	r.Get("/api/status", h.Status)
	r.Get("/api/status/history", h.StatusHistory)

	if ws != nil {
		r.Get("/ws/status", ws.ServeHTTP)
	}

	return r
}
