package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
	"github.com/zhouzirui/z-tavern/streamview/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	agents  agent.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, agents agent.Store) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		agents:  agents,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/messages", h.handleSaveMessage)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentID string `json:"agentId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.AgentID == "" {
		utils.RespondError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	if _, ok := h.agents.FindByID(payload.AgentID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "agent not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.AgentID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleSaveMessage 保存消息
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string         `json:"sessionId"`
		Sender    chat.Sender    `json:"sender"`
		Content   string         `json:"content"`
		Metadata  *chat.Metadata `json:"metadata"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Sender != chat.SenderUser && payload.Sender != chat.SenderBot {
		utils.RespondError(w, http.StatusBadRequest, "sender must be user or bot")
		return
	}

	message := chat.Message{
		SessionID: payload.SessionID,
		Sender:    payload.Sender,
		Content:   payload.Content,
		Metadata:  payload.Metadata,
		IsFinal:   true,
	}

	if err := h.chatSvc.SaveMessage(r.Context(), message); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleListMessages 返回会话记录
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}
