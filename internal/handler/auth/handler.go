package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	identityService "github.com/zhouzirui/kyc-shield/backend/internal/service/identity"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// Handler 登录、登出与配置提示的HTTP处理器
type Handler struct {
	identity *identityService.Service
	log      zerolog.Logger
}

func New(identity *identityService.Service) *Handler {
	return &Handler{identity: identity, log: logging.For("auth-http")}
}

// RegisterRoutes 注册认证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", h.handleSignIn)
		r.Post("/signout", h.handleSignOut)
		r.Get("/me", h.handleMe)
		r.Get("/notices", h.handleListNotices)
		r.Delete("/notices/{id}", h.handleDismissNotice)
	})
}

type noticeError struct {
	Error   string                   `json:"error"`
	Notices []identityService.Notice `json:"notices"`
}

type meResponse struct {
	SignedIn   bool        `json:"signedIn"`
	User       interface{} `json:"user,omitempty"`
	Configured bool        `json:"configured"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Assertion string `json:"assertion"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientID := middleware.PrincipalFrom(r.Context()).ClientID
	session, err := h.identity.SignIn(r.Context(), clientID, payload.Assertion)
	if err != nil {
		var cfgErr *identityService.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			utils.RespondJSON(w, http.StatusServiceUnavailable, noticeError{Error: err.Error(), Notices: cfgErr.Notices})
		case errors.Is(err, identityService.ErrInvalidAssertion):
			utils.RespondJSON(w, http.StatusUnauthorized, noticeError{
				Error:   err.Error(),
				Notices: h.identity.Board().List(clientID),
			})
		default:
			h.log.Error().Err(err).Msg("sign-in failed")
			utils.RespondError(w, http.StatusInternalServerError, "failed to sign in")
		}
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.SignOut(r.Context(), middleware.BearerToken(r)); err != nil {
		if errors.Is(err, identityService.ErrInvalidToken) {
			utils.RespondError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		h.log.Error().Err(err).Msg("sign-out failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())
	resp := meResponse{SignedIn: principal.SignedIn(), Configured: h.identity.Configured()}
	if principal.SignedIn() {
		resp.User = principal.User
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListNotices(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.PrincipalFrom(r.Context()).ClientID
	utils.RespondJSON(w, http.StatusOK, h.identity.Board().List(clientID))
}

func (h *Handler) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.PrincipalFrom(r.Context()).ClientID
	if !h.identity.Board().Dismiss(clientID, chi.URLParam(r, "id")) {
		utils.RespondError(w, http.StatusNotFound, "notice not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
