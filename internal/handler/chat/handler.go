package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/realtime"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	chatService "github.com/zhouzirui/kyc-shield/backend/internal/service/chat"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	feeds    realtime.Subscriber
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, feeds realtime.Subscriber) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		feeds:    feeds,
		upgrader: realtime.NewUpgrader(),
		log:      logging.For("chat-http"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/messages", h.handleTranscript)
	r.Post("/chat/messages", h.handleSendMessage)
	r.Get("/chat/ws", h.handleLive)
}

// handleTranscript 返回当前会话记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.Transcript(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load transcript")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleSendMessage 发送消息并返回助手回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := h.chatSvc.Send(r.Context(), middleware.PrincipalFrom(r.Context()), payload.Text)
	if err != nil {
		if errors.Is(err, chatService.ErrEmptyMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("failed to send chat message")
		utils.RespondError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchange)
}

// handleLive streams the signed-in user's transcript as it changes.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())
	if !principal.SignedIn() {
		utils.RespondError(w, http.StatusUnauthorized, "sign in to follow the transcript")
		return
	}

	sub := h.feeds.Subscribe(r.Context(), feed.ChatTopic(principal.Owner()))
	revoked := realtime.WatchSession(r.Context(), h.feeds, principal)
	realtime.Serve(w, r, &h.upgrader, sub, revoked, func(ctx context.Context) (interface{}, error) {
		return h.chatSvc.Transcript(ctx, principal)
	}, h.log)
}
