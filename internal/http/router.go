package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/s6ptember/videocall-app/internal/handlers"
)

func NewRouter(h *handlers.RoomHandler, wsHandler *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Post("/join", h.Join)
		r.Get("/{roomId}", h.Get)
		r.Post("/{roomId}/leave", h.Leave)
		r.Delete("/{roomId}", h.Delete)
		// シグナリング用WebSocketエンドポイント
		r.Get("/{roomId}/ws", wsHandler.HandleWebSocket)
	})

	return r
}
