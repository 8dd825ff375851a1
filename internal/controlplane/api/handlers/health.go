package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ggnet/ggboot/pkg/dhcp"
	"github.com/ggnet/ggboot/pkg/tftp"
)

// Pinger is the store surface health checks need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check API endpoints.
//
// The TFTP and DHCP managers are optional; when nil the corresponding
// subsystem entry is reported as unconfigured rather than failing.
type HealthHandler struct {
	store Pinger
	tftp  *tftp.Manager
	dhcp  *dhcp.Manager
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, tftpMgr *tftp.Manager, dhcpMgr *dhcp.Manager) *HealthHandler {
	return &HealthHandler{store: store, tftp: tftpMgr, dhcp: dhcpMgr}
}

// healthResponse is the response body for health endpoints.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    any       `json:"detail,omitempty"`
}

// subsystemStatus describes one external dependency in /health/subsystems.
type subsystemStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  any    `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness handles GET /health.
// Always returns 200 while the process is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready.
// Returns 503 if the database is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Detail:    err.Error(),
		})
		return
	}
	WriteJSONOK(w, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Subsystems handles GET /health/subsystems.
// Reports the database, TFTP, and DHCP dependency state. The response is
// 200 even with unhealthy entries; callers inspect the body.
func (h *HealthHandler) Subsystems(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]subsystemStatus{}

	dbStatus := subsystemStatus{Healthy: true}
	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = subsystemStatus{Error: err.Error()}
	}
	subsystems["database"] = dbStatus

	if h.tftp != nil {
		status, err := h.tftp.GetStatus(r.Context())
		if err != nil {
			subsystems["tftp"] = subsystemStatus{Error: err.Error()}
		} else {
			subsystems["tftp"] = subsystemStatus{Healthy: status.ServiceRunning, Detail: status}
		}
	}
	if h.dhcp != nil {
		status, err := h.dhcp.GetStatus(r.Context())
		if err != nil {
			subsystems["dhcp"] = subsystemStatus{Error: err.Error()}
		} else {
			subsystems["dhcp"] = subsystemStatus{
				Healthy: status.ServiceRunning && status.ConfigValid,
				Detail:  status,
			}
		}
	}

	overall := "healthy"
	for _, s := range subsystems {
		if !s.Healthy {
			overall = "degraded"
			break
		}
	}
	WriteJSONOK(w, healthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Detail:    subsystems,
	})
}
