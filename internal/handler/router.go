package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chative-estimate/server/internal/agent/model"
	"github.com/chative-estimate/server/internal/agent/orchestrator"
	"github.com/chative-estimate/server/internal/handler/chat"
	"github.com/chative-estimate/server/internal/middleware"
	"github.com/chative-estimate/server/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chats *orchestrator.Registry, orch *orchestrator.Orchestrator, sessions model.SessionStore) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(chats, orch, sessions)
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Identity)
		chatHandler.RegisterRoutes(api)
	})

	return r
}
