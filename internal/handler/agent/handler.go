package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/pkg/utils"
)

// Handler agent 列表的HTTP处理器
type Handler struct {
	agents agent.Store
}

// New 创建agent处理器
func New(agents agent.Store) *Handler {
	return &Handler{
		agents: agents,
	}
}

// RegisterRoutes 注册agent相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents", h.handleListAgents)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.agents.List())
}
