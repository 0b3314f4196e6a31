package history

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/handler/realtime"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	historyService "github.com/zhouzirui/kyc-shield/backend/internal/service/history"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler exposes the signed-in user's scan history.
type Handler struct {
	history  *historyService.Service
	feeds    realtime.Subscriber
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func New(history *historyService.Service, feeds realtime.Subscriber) *Handler {
	return &Handler{
		history:  history,
		feeds:    feeds,
		upgrader: realtime.NewUpgrader(),
		log:      logging.For("history-http"),
	}
}

// RegisterRoutes 注册历史记录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/history", h.handleList)
	r.Get("/history/ws", h.handleLive)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	scans, err := h.history.List(r.Context(), middleware.PrincipalFrom(r.Context()), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list scans")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, scans)
}

// handleLive pushes the latest history page on connect and after each new
// scan.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())
	limit := parseLimit(r.URL.Query().Get("limit"))

	sub, err := h.history.Subscribe(r.Context(), principal)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	revoked := realtime.WatchSession(r.Context(), h.feeds, principal)
	realtime.Serve(w, r, &h.upgrader, sub, revoked, func(ctx context.Context) (interface{}, error) {
		return h.history.List(ctx, principal, limit)
	}, h.log)
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
