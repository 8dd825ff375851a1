package handlers

import (
	"errors"
	"net/http"

	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

// MachineHandler handles machine management API endpoints.
type MachineHandler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

// NewMachineHandler creates a new MachineHandler.
func NewMachineHandler(s store.Store, orch *orchestrator.Orchestrator) *MachineHandler {
	return &MachineHandler{store: s, orch: orch}
}

// CreateMachineRequest is the request body for POST /api/v1/machines.
type CreateMachineRequest struct {
	Name        string            `json:"name"`
	MAC         string            `json:"mac"`
	IP          string            `json:"ip,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	BootMode    string            `json:"boot_mode,omitempty"`
	SecureBoot  bool              `json:"secure_boot,omitempty"`
	Status      string            `json:"status,omitempty"`
	Location    string            `json:"location,omitempty"`
	Row         string            `json:"row,omitempty"`
	Seat        string            `json:"seat,omitempty"`
	Description string            `json:"description,omitempty"`
	ExtraConfig map[string]string `json:"extra_config,omitempty"`
}

// ReportRequest is the request body for POST /api/v1/machines/report.
// Clients post it from the booted OS as a keep-alive and on first boot.
type ReportRequest struct {
	MAC      string `json:"mac"`
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
	Booted   bool   `json:"booted,omitempty"`
}

// Create handles POST /api/v1/machines (operator).
func (h *MachineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateMachineRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	canonical, err := models.CanonicalMAC(req.MAC)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	machine := &models.Machine{
		Name:        req.Name,
		MAC:         canonical,
		IP:          req.IP,
		Hostname:    req.Hostname,
		BootMode:    req.BootMode,
		SecureBoot:  req.SecureBoot,
		Status:      req.Status,
		Location:    req.Location,
		Row:         req.Row,
		Seat:        req.Seat,
		Description: req.Description,
		ExtraConfig: req.ExtraConfig,
	}
	if machine.BootMode == "" {
		machine.BootMode = string(models.BootModeUEFI)
	}
	if machine.Status == "" {
		machine.Status = string(models.MachineActive)
	}

	if err := h.store.CreateMachine(r.Context(), machine); err != nil {
		WriteStoreError(w, err)
		return
	}

	h.audit(r, models.AuditMachineCreated, machine)
	WriteJSONCreated(w, machine)
}

// List handles GET /api/v1/machines.
// Supports status, location, and online query filters.
func (h *MachineHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.MachineFilter{
		Status:   r.URL.Query().Get("status"),
		Location: r.URL.Query().Get("location"),
	}
	if online := r.URL.Query().Get("online"); online != "" {
		v := online == "true"
		filter.Online = &v
	}

	machines, err := h.store.ListMachines(r.Context(), filter)
	if err != nil {
		InternalServerError(w, "Failed to list machines")
		return
	}
	WriteJSONOK(w, machines)
}

// Get handles GET /api/v1/machines/{id}.
func (h *MachineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	machine, err := h.store.GetMachine(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, machine)
}

// Update handles PUT /api/v1/machines/{id} (operator).
func (h *MachineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	machine, err := h.store.GetMachine(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	var req CreateMachineRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.MAC != "" {
		canonical, err := models.CanonicalMAC(req.MAC)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		machine.MAC = canonical
	}
	if req.Name != "" {
		machine.Name = req.Name
	}
	if req.IP != "" {
		machine.IP = req.IP
	}
	if req.Hostname != "" {
		machine.Hostname = req.Hostname
	}
	if req.BootMode != "" {
		machine.BootMode = req.BootMode
	}
	if req.Status != "" {
		machine.Status = req.Status
	}
	if req.Location != "" {
		machine.Location = req.Location
	}
	if req.Row != "" {
		machine.Row = req.Row
	}
	if req.Seat != "" {
		machine.Seat = req.Seat
	}
	if req.Description != "" {
		machine.Description = req.Description
	}
	if req.ExtraConfig != nil {
		machine.ExtraConfig = req.ExtraConfig
	}
	machine.SecureBoot = req.SecureBoot

	if err := h.store.UpdateMachine(r.Context(), machine); err != nil {
		WriteStoreError(w, err)
		return
	}

	h.audit(r, models.AuditMachineUpdated, machine)
	WriteJSONOK(w, machine)
}

// Delete handles DELETE /api/v1/machines/{id} (operator).
// Machines with a live session cannot be deleted.
func (h *MachineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.store.GetLiveSessionForMachine(r.Context(), id); err == nil {
		Conflict(w, "Machine has a live session; stop it first")
		return
	} else if !errors.Is(err, models.ErrSessionNotFound) {
		InternalServerError(w, "Failed to check sessions")
		return
	}

	if err := h.store.DeleteMachine(r.Context(), id); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// ActiveSession handles GET /api/v1/machines/{id}/session.
// Returns the machine's live session, or 404 if none.
func (h *MachineHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	session, err := h.orch.GetActiveSessionForMachine(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, session)
}

// Report handles POST /api/v1/machines/report.
// Known machines get their liveness refreshed; unknown MACs are registered
// as discovered machines in inactive status so an operator can adopt them.
func (h *MachineHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	canonical, err := models.CanonicalMAC(req.MAC)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	machine, err := h.store.GetMachineByMAC(r.Context(), canonical)
	if errors.Is(err, models.ErrMachineNotFound) {
		machine = &models.Machine{
			Name:     "discovered-" + models.MACPlain(canonical),
			MAC:      canonical,
			IP:       req.IP,
			Hostname: req.Hostname,
			BootMode: string(models.BootModeUEFI),
			Status:   string(models.MachineInactive),
		}
		if err := h.store.CreateMachine(r.Context(), machine); err != nil {
			WriteStoreError(w, err)
			return
		}
		h.audit(r, models.AuditMachineReported, machine)
		logger.Info("discovered new machine from report",
			logger.MAC(canonical), logger.MachineID(machine.ID))
		WriteJSONCreated(w, machine)
		return
	} else if err != nil {
		WriteStoreError(w, err)
		return
	}

	// Refresh hostname and IP when the client reports new values.
	if (req.Hostname != "" && req.Hostname != machine.Hostname) ||
		(req.IP != "" && req.IP != machine.IP) {
		if req.Hostname != "" {
			machine.Hostname = req.Hostname
		}
		if req.IP != "" {
			machine.IP = req.IP
		}
		if err := h.store.UpdateMachine(r.Context(), machine); err != nil {
			logger.Warn("updating reported machine failed",
				logger.MachineID(machine.ID), logger.Err(err))
		}
	}

	if err := h.orch.RecordClientActivity(r.Context(), canonical, req.Booted); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, machine)
}

func (h *MachineHandler) audit(r *http.Request, action string, machine *models.Machine) {
	entry := &models.AuditLog{
		Action:   action,
		Actor:    actorName(r),
		Resource: "machine",
		RecordID: machine.ID,
		Detail:   machine.MAC,
		ClientIP: r.RemoteAddr,
	}
	if lc := logger.FromContext(r.Context()); lc != nil {
		entry.TraceID = lc.TraceID
		entry.ClientIP = lc.ClientIP
	}
	if err := h.store.AppendAuditLog(r.Context(), entry); err != nil {
		logger.WarnCtx(r.Context(), "appending machine audit entry failed", logger.Err(err))
	}
}
