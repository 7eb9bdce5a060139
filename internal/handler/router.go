package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cingulado/alade-chat/backend/internal/handler/chat"
	"github.com/cingulado/alade-chat/backend/internal/handler/socket"
	"github.com/cingulado/alade-chat/backend/internal/hub"
	middlewarePkg "github.com/cingulado/alade-chat/backend/internal/middleware"
	chatService "github.com/cingulado/alade-chat/backend/internal/service/chat"
	"github.com/cingulado/alade-chat/backend/pkg/utils"
)

// RouterConfig carries the transport settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	Socket         socket.Config
}

// NewRouter wires HTTP routes and the socket endpoint to the hub and chat service.
func NewRouter(cfg RouterConfig, h *hub.Hub, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))

	socketCfg := cfg.Socket
	if socketCfg.CheckOrigin == nil {
		socketCfg.CheckOrigin = middlewarePkg.OriginChecker(cfg.AllowedOrigins)
	}
	socket.New(h, socketCfg).RegisterRoutes(r)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondOK(w, http.StatusOK, map[string]any{"message": "chat hub running"})
	})

	chatHandler := chat.New(chatSvc, h)
	r.Route("/api/chat", chatHandler.RegisterRoutes)

	return r
}
