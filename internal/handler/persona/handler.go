package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas    persona.Store
	aiAvailable bool
}

// New 创建persona处理器. aiAvailable reports whether a chat model is wired.
func New(personas persona.Store, aiAvailable bool) *Handler {
	return &Handler{
		personas:    personas,
		aiAvailable: aiAvailable,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/assistant", h.handleAssistant)
}

type assistantResponse struct {
	Persona  persona.Persona `json:"persona"`
	Online   bool            `json:"online"`
	Greeting string          `json:"greeting"`
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleAssistant 返回聊天助手的人设与在线状态
func (h *Handler) handleAssistant(w http.ResponseWriter, r *http.Request) {
	assistant := h.personas.Assistant()
	if assistant.ID == "" {
		utils.RespondError(w, http.StatusNotFound, "assistant persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, assistantResponse{
		Persona:  assistant,
		Online:   h.aiAvailable,
		Greeting: assistant.OpeningLine,
	})
}
