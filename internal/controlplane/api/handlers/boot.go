package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
)

// BootHandler serves iPXE boot scripts to PXE clients.
//
// These endpoints are unauthenticated: firmware-stage iPXE cannot carry
// credentials. A machine without a live session gets a 404, which the
// generic script turns into a retry loop.
type BootHandler struct {
	orch *orchestrator.Orchestrator
}

// NewBootHandler creates a new BootHandler.
func NewBootHandler(orch *orchestrator.Orchestrator) *BootHandler {
	return &BootHandler{orch: orch}
}

// ContentTypeIPXE is the Content-Type used for iPXE script responses.
const ContentTypeIPXE = "text/plain; charset=utf-8"

// Script handles GET /api/v1/boot/{mac}/script.
// The MAC is accepted in any encoding (colons, hyphens, dots, bare hex).
func (h *BootHandler) Script(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	script, err := h.orch.ServeBootScriptByMAC(r.Context(), mac)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidMAC):
			BadRequest(w, err.Error())
		case errors.Is(err, models.ErrMachineNotFound),
			errors.Is(err, models.ErrSessionNotFound),
			errors.Is(err, models.ErrTargetNotFound):
			NotFound(w, "No active session for this machine")
		default:
			logger.ErrorCtx(r.Context(), "serving boot script failed", logger.MAC(mac), logger.Err(err))
			InternalServerError(w, "Failed to build boot script")
		}
		return
	}

	w.Header().Set("Content-Type", ContentTypeIPXE)
	_, _ = w.Write([]byte(script))
}
