package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/ggnet/ggboot/pkg/dhcp"
	"github.com/ggnet/ggboot/pkg/iscsi"
)

// SessionHandler handles boot session API endpoints.
type SessionHandler struct {
	orch *orchestrator.Orchestrator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(orch *orchestrator.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

// StartSessionRequest is the request body for POST /api/v1/sessions.
type StartSessionRequest struct {
	MachineID   uint   `json:"machine_id"`
	ImageID     uint   `json:"image_id"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Start handles POST /api/v1/sessions (operator).
// Provisions the iSCSI target, boot script, and DHCP reservation, then
// returns the full session descriptor.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.MachineID == 0 || req.ImageID == 0 {
		BadRequest(w, "machine_id and image_id are required")
		return
	}
	if req.Type != "" && !models.SessionType(req.Type).IsValid() {
		BadRequest(w, "Invalid session type")
		return
	}

	result, err := h.orch.Start(r.Context(), req.MachineID, req.ImageID,
		req.Type, req.Description, actorName(r))
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	WriteJSONCreated(w, result)
}

// Stop handles DELETE /api/v1/sessions/{session_id} (operator).
// Stopping an already-stopped session succeeds.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		BadRequest(w, "Session id is required")
		return
	}

	result, err := h.orch.Stop(r.Context(), sessionID, actorName(r))
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	WriteJSONOK(w, result)
}

// List handles GET /api/v1/sessions.
// Supports status, machine_id, live, and limit query filters.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Status: r.URL.Query().Get("status"),
		Live:   r.URL.Query().Get("live") == "true",
		Limit:  queryInt(r, "limit", 0),
	}
	if machineID := queryInt(r, "machine_id", 0); machineID > 0 {
		filter.MachineID = uint(machineID)
	}

	sessions, err := h.orch.ListSessions(r.Context(), filter)
	if err != nil {
		InternalServerError(w, "Failed to list sessions")
		return
	}
	WriteJSONOK(w, sessions)
}

// Get handles GET /api/v1/sessions/{session_id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := h.orch.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, session)
}

// Stats handles GET /api/v1/sessions/stats.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.GetStats(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to compute session stats")
		return
	}
	WriteJSONOK(w, stats)
}

// writeOrchestratorError maps orchestrator failures onto problem responses.
// External tool failures surface as 502 with the tool's stderr detail; the
// domain sentinels fall through to the standard mapping.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var cliErr *iscsi.CLIError
	if errors.As(err, &cliErr) {
		BadGateway(w, cliErr.Error())
		return
	}
	var dhcpErr *dhcp.Error
	if errors.As(err, &dhcpErr) {
		BadGateway(w, dhcpErr.Error())
		return
	}
	WriteStoreError(w, err)
}
