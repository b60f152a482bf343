package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jdelgado/rps-backend/internal/config"
	"github.com/jdelgado/rps-backend/internal/hub"
	"github.com/jdelgado/rps-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, cfg config.Config, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/rooms", CreateRoom(h, cfg))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
