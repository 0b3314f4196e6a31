package verification

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	model "github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
	verificationService "github.com/zhouzirui/kyc-shield/backend/internal/service/verification"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

// handleLiveness runs the prompt sequence and analysis, streaming progress as
// Server-Sent Events: prompt, capture, analyzing, then result or error.
func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	principal := middleware.PrincipalFrom(r.Context())
	o := h.registry.Get(principal.ClientID).Orchestrator

	if stage := o.Stage(); stage != model.StageCapturing {
		snap := o.Snapshot()
		utils.RespondJSON(w, http.StatusConflict, errorResponse{Error: "camera is not active", Snapshot: &snap})
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// the run keeps going after the client disconnects; writes just fail
	clientGone := false
	send := func(event string, data interface{}) {
		if clientGone {
			return
		}
		if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
			clientGone = true
		}
	}

	snap, err := o.RunLiveness(r.Context(), principal, func(e verificationService.Event) {
		send(string(e.Type), e)
	})
	if err != nil {
		message := err.Error()
		var accessErr *verificationService.DeviceAccessError
		if errors.As(err, &accessErr) {
			message = cameraDeniedMessage
		}
		h.log.Info().Err(err).Str("client_id", principal.ClientID).Msg("liveness run aborted")
		send("error", errorResponse{Error: message, Snapshot: &snap})
	}
}
