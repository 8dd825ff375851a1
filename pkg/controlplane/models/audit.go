package models

import "time"

// Audit actions emitted by the control plane. Session start and stop are
// distinct actions.
const (
	AuditSessionStarted  = "SESSION_STARTED"
	AuditSessionStopped  = "SESSION_STOPPED"
	AuditSessionTimeout  = "SESSION_TIMEOUT"
	AuditSessionError    = "SESSION_ERROR"
	AuditTargetCreated   = "TARGET_CREATED"
	AuditTargetDeleted   = "TARGET_DELETED"
	AuditImageUploaded   = "IMAGE_UPLOADED"
	AuditImageConverted  = "IMAGE_CONVERTED"
	AuditImageDeleted    = "IMAGE_DELETED"
	AuditMachineCreated  = "MACHINE_CREATED"
	AuditMachineUpdated  = "MACHINE_UPDATED"
	AuditMachineReported = "MACHINE_REPORTED"
	AuditUserCreated     = "USER_CREATED"
	AuditUserUpdated     = "USER_UPDATED"
	AuditUserLogin       = "USER_LOGIN"
	AuditUserLoginFailed = "USER_LOGIN_FAILED"
)

// AuditLog is an append-only record of a control plane event.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"index;not null;size:64" json:"action"`
	ActorID   uint      `gorm:"index" json:"actor_id"`
	Actor     string    `gorm:"size:255" json:"actor"`
	Resource  string    `gorm:"size:64" json:"resource"`
	RecordID  uint      `json:"record_id"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	TraceID   string    `gorm:"size:64" json:"trace_id,omitempty"`
	ClientIP  string    `gorm:"size:45" json:"client_ip,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for AuditLog.
func (AuditLog) TableName() string {
	return "audit_logs"
}
