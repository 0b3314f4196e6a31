package verification

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	model "github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/camera"
	verificationService "github.com/zhouzirui/kyc-shield/backend/internal/service/verification"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// MaxFrameBytes bounds one pushed camera frame.
const MaxFrameBytes = 8 << 20

const cameraDeniedMessage = "Camera access denied. Please allow permissions."

// Handler 活体验证的HTTP处理器
type Handler struct {
	registry *verificationService.Registry
	log      zerolog.Logger
}

// New 创建验证处理器
func New(registry *verificationService.Registry) *Handler {
	return &Handler{registry: registry, log: logging.For("verification-http")}
}

// RegisterRoutes 注册验证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/verification", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Delete("/", h.handleDiscard)
		r.Put("/frame", h.handlePushFrame)
		r.Post("/start", h.handleStart)
		r.Post("/liveness", h.handleLiveness)
		r.Post("/reset", h.handleReset)
	})
}

type errorResponse struct {
	Error    string          `json:"error"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
}

func (h *Handler) client(r *http.Request) *verificationService.Client {
	return h.registry.Get(middleware.PrincipalFrom(r.Context()).ClientID)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.client(r).Orchestrator.Snapshot())
}

// handlePushFrame 接收浏览器摄像头推送的最新帧
func (h *Handler) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "failed to read frame")
		return
	}

	if err := h.client(r).Frames.Push(data); err != nil {
		if errors.Is(err, camera.ErrNoFrame) {
			utils.RespondError(w, http.StatusBadRequest, "frame body is empty")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "unsupported frame format")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	o := h.client(r).Orchestrator

	if err := o.Start(r.Context()); err != nil {
		snap := o.Snapshot()
		var accessErr *verificationService.DeviceAccessError
		switch {
		case errors.As(err, &accessErr):
			utils.RespondJSON(w, http.StatusForbidden, errorResponse{Error: cameraDeniedMessage, Snapshot: &snap})
		case errors.Is(err, verificationService.ErrInvalidTransition), errors.Is(err, verificationService.ErrSessionReset):
			utils.RespondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Snapshot: &snap})
		default:
			h.log.Error().Err(err).Msg("failed to start verification")
			utils.RespondError(w, http.StatusInternalServerError, "failed to start verification")
		}
		return
	}
	utils.RespondJSON(w, http.StatusOK, o.Snapshot())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.client(r).Orchestrator.Reset()
	if err != nil {
		utils.RespondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Snapshot: &snap})
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.client(r).Orchestrator.Discard(); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
