package handlers

import (
	"net/http"

	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

// AuditHandler exposes the audit trail (admin only).
type AuditHandler struct {
	store store.Store
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(s store.Store) *AuditHandler {
	return &AuditHandler{store: s}
}

// List handles GET /api/v1/audit.
// Supports action, resource, record_id, and limit query filters; entries
// come back newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{
		Action:   r.URL.Query().Get("action"),
		Resource: r.URL.Query().Get("resource"),
		Limit:    queryInt(r, "limit", 0),
	}
	if recordID := queryInt(r, "record_id", 0); recordID > 0 {
		filter.RecordID = uint(recordID)
	}

	logs, err := h.store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		InternalServerError(w, "Failed to list audit entries")
		return
	}
	WriteJSONOK(w, logs)
}
