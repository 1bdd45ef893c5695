package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/streamview/internal/handler/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/handler/socket"
	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-tavern/streamview/internal/middleware"
	agentModel "github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	chatService "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
	"github.com/zhouzirui/z-tavern/streamview/pkg/utils"
)

// Options 控制可选路由。
type Options struct {
	Metrics bool
}

// NewRouter wires HTTP routes to core services. replier may be nil, in which
// case the socket endpoint responds 503.
func NewRouter(agents agentModel.Store, chatSvc *chatService.Service, replier socket.Replier, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	agentHandler := agent.New(agents)
	chatHandler := chat.New(chatSvc, agents)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		agentHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)

		if replier != nil {
			socket.New(chatSvc, replier).RegisterRoutes(api)
		} else {
			api.Get("/ws/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "agent replies unavailable")
			})
		}
	})

	return r
}
