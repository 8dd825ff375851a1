package models

import (
	"fmt"
	"time"
)

// SessionType categorizes why a machine is being booted.
type SessionType string

const (
	SessionDisklessBoot SessionType = "diskless-boot"
	SessionMaintenance  SessionType = "maintenance"
	SessionTesting      SessionType = "testing"
)

// IsValid checks if the type is a recognized SessionType.
func (t SessionType) IsValid() bool {
	return t == SessionDisklessBoot || t == SessionMaintenance || t == SessionTesting
}

// SessionStatus represents a session's lifecycle state.
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionActive   SessionStatus = "active"
	SessionStopping SessionStatus = "stopping"
	SessionStopped  SessionStatus = "stopped"
	SessionError    SessionStatus = "error"
	SessionTimeout  SessionStatus = "timeout"
)

// IsValid checks if the status is a recognized SessionStatus.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStarting, SessionActive, SessionStopping, SessionStopped, SessionError, SessionTimeout:
		return true
	}
	return false
}

// IsLive reports whether a session in this status holds external resources
// (iSCSI target, TFTP script, DHCP reservation).
func (s SessionStatus) IsLive() bool {
	return s == SessionStarting || s == SessionActive
}

// LiveSessionStatuses lists the statuses counted by the one-session-per-
// machine uniqueness constraint.
var LiveSessionStatuses = []string{string(SessionStarting), string(SessionActive)}

// Session represents one boot episode for one machine.
type Session struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"uniqueIndex;not null;size:64" json:"session_id"`
	Type      string `gorm:"size:20;default:diskless-boot" json:"type"`
	Status    string `gorm:"size:20;index;default:starting" json:"status"`

	MachineID uint `gorm:"index;not null" json:"machine_id"`
	TargetID  uint `gorm:"index" json:"target_id"`
	ImageID   uint `gorm:"index" json:"image_id"`

	ServerIP string `gorm:"size:15" json:"server_ip,omitempty"`

	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	BootAt       *time.Time `json:"boot_at,omitempty"`
	ReadyAt      *time.Time `json:"ready_at,omitempty"`
	LastActivity *time.Time `gorm:"index" json:"last_activity,omitempty"`

	BootDurationSec  float64 `json:"boot_duration_sec,omitempty"`
	TotalDurationSec float64 `json:"total_duration_sec,omitempty"`

	RetryCount   int    `gorm:"default:0" json:"retry_count"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	Description string    `gorm:"size:1024" json:"description,omitempty"`
	CreatedBy   uint      `json:"created_by"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// GetStatus returns the session status as a SessionStatus type.
func (s *Session) GetStatus() SessionStatus {
	return SessionStatus(s.Status)
}

// IsLive reports whether the session holds external resources.
func (s *Session) IsLive() bool {
	return s.GetStatus().IsLive()
}

// ComputeDurations fills in the derived duration fields from the recorded
// timestamps. EndedAt must be set before calling.
func (s *Session) ComputeDurations() {
	if s.BootAt != nil && s.ReadyAt != nil {
		s.BootDurationSec = s.ReadyAt.Sub(*s.BootAt).Seconds()
	}
	if s.EndedAt != nil && !s.StartedAt.IsZero() {
		s.TotalDurationSec = s.EndedAt.Sub(s.StartedAt).Seconds()
	}
}

// Validate checks if the session has valid configuration.
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.MachineID == 0 {
		return fmt.Errorf("session machine reference is required")
	}
	if s.Type != "" && !SessionType(s.Type).IsValid() {
		return fmt.Errorf("invalid session type %q", s.Type)
	}
	if s.Status != "" && !SessionStatus(s.Status).IsValid() {
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("session ended before it started")
	}
	return nil
}
