package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/handler/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/handler/users"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/handler/ws"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/metrics"
	middlewarePkg "github.com/andreluisaguiar/chatbot-distribuido/internal/middleware"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/ai"
	chatService "github.com/andreluisaguiar/chatbot-distribuido/internal/service/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/hub"
	userService "github.com/andreluisaguiar/chatbot-distribuido/internal/service/users"
	"github.com/andreluisaguiar/chatbot-distribuido/pkg/utils"
)

// Deps groups what the router wires together.
type Deps struct {
	Chat        *chatService.Service
	Users       *userService.Service
	Hub         *hub.Hub
	Bot         *ai.Dispatcher
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Socket      ws.Options
}

// NewRouter wires HTTP and websocket routes to the backend services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.CORSOrigins))
	if d.Metrics != nil {
		r.Use(middlewarePkg.Metrics(d.Metrics))
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "API Gateway"})
	})

	ws.New(d.Chat, d.Hub, d.Bot, d.Metrics, d.Socket).RegisterRoutes(r)

	r.Route("/api/v1", func(api chi.Router) {
		users.New(d.Users).RegisterRoutes(api)
		chat.New(d.Chat, d.Bot).RegisterRoutes(api)
	})

	return r
}
