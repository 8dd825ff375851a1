package models

import (
	"fmt"
	"time"
)

// TargetStatus represents an iSCSI target's lifecycle state.
type TargetStatus string

const (
	TargetCreating TargetStatus = "creating"
	TargetActive   TargetStatus = "active"
	TargetInactive TargetStatus = "inactive"
	TargetError    TargetStatus = "error"
	TargetDeleting TargetStatus = "deleting"
)

// IsValid checks if the status is a recognized TargetStatus.
func (s TargetStatus) IsValid() bool {
	switch s {
	case TargetCreating, TargetActive, TargetInactive, TargetError, TargetDeleting:
		return true
	}
	return false
}

// TargetIDForMachine returns the deterministic external target id for a
// machine: machine_<id>. The id doubles as the backstore name suffix and the
// final IQN component.
func TargetIDForMachine(machineID uint) string {
	return fmt.Sprintf("machine_%d", machineID)
}

// IQNFor returns the deterministic target IQN for an external target id
// under the configured prefix: <prefix>:target-<target_id>.
func IQNFor(prefix, targetID string) string {
	return fmt.Sprintf("%s:target-%s", prefix, targetID)
}

// InitiatorIQNFor returns the deterministic initiator IQN for a canonical
// MAC under the configured prefix: <prefix>:initiator-<mac-no-separators>.
func InitiatorIQNFor(prefix, canonicalMAC string) string {
	return fmt.Sprintf("%s:initiator-%s", prefix, MACPlain(canonicalMAC))
}

// Target represents an iSCSI target exposing one image as LUN 0 to one
// machine. Targets exist only while a session is live; the orchestrator
// creates them during session start and removes them on stop or rollback.
type Target struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TargetID     string    `gorm:"uniqueIndex;not null;size:255" json:"target_id"`
	IQN          string    `gorm:"uniqueIndex;not null;size:255" json:"iqn"`
	MachineID    uint      `gorm:"index;not null" json:"machine_id"`
	ImageID      uint      `gorm:"index;not null" json:"image_id"`
	ImagePath    string    `gorm:"size:1024" json:"image_path"`
	InitiatorIQN string    `gorm:"size:255" json:"initiator_iqn"`
	LUNID        int       `gorm:"default:0" json:"lun_id"`
	Status       string    `gorm:"size:20;default:creating" json:"status"`
	Description  string    `gorm:"size:1024" json:"description,omitempty"`
	CreatedBy    uint      `json:"created_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Target.
func (Target) TableName() string {
	return "targets"
}

// GetStatus returns the target status as a TargetStatus type.
func (t *Target) GetStatus() TargetStatus {
	return TargetStatus(t.Status)
}

// Validate checks if the target has valid configuration.
func (t *Target) Validate() error {
	if t.TargetID == "" {
		return fmt.Errorf("target id is required")
	}
	if t.IQN == "" {
		return fmt.Errorf("target IQN is required")
	}
	if t.MachineID == 0 {
		return fmt.Errorf("target machine reference is required")
	}
	if t.ImageID == 0 {
		return fmt.Errorf("target image reference is required")
	}
	if t.Status != "" && !TargetStatus(t.Status).IsValid() {
		return fmt.Errorf("invalid target status %q", t.Status)
	}
	return nil
}
