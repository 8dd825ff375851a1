package models

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// macPattern matches the canonical MAC form: lower-hex pairs joined by colons.
var macPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

// CanonicalMAC normalizes a MAC address to lower-hex pairs joined by colons
// (aa:bb:cc:dd:ee:ff). Accepts colon, hyphen, and dot separators as well as
// bare 12-digit hex. Returns ErrInvalidMAC for anything that is not exactly
// six octets.
func CanonicalMAC(mac string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(mac))
	s = strings.NewReplacer("-", "", ":", "", ".", "").Replace(s)
	if len(s) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = s[i*2 : i*2+2]
	}
	out := strings.Join(parts, ":")
	if !macPattern.MatchString(out) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return out, nil
}

// MACHyphens converts a canonical MAC to hyphen-separated form
// (aa-bb-cc-dd-ee-ff), the encoding used for TFTP script filenames.
func MACHyphens(canonical string) string {
	return strings.ReplaceAll(canonical, ":", "-")
}

// MACPlain converts a canonical MAC to bare hex (aabbccddeeff), the encoding
// used in derived initiator IQNs.
func MACPlain(canonical string) string {
	return strings.ReplaceAll(canonical, ":", "")
}

// BootMode represents the firmware boot mode of a client machine.
type BootMode string

const (
	BootModeLegacy     BootMode = "legacy"
	BootModeUEFI       BootMode = "uefi"
	BootModeUEFISecure BootMode = "uefi-secure"
)

// IsValid checks if the mode is a recognized BootMode.
func (m BootMode) IsValid() bool {
	return m == BootModeLegacy || m == BootModeUEFI || m == BootModeUEFISecure
}

// MachineStatus represents a machine's administrative state.
type MachineStatus string

const (
	MachineActive      MachineStatus = "active"
	MachineInactive    MachineStatus = "inactive"
	MachineMaintenance MachineStatus = "maintenance"
	MachineRetired     MachineStatus = "retired"
)

// IsValid checks if the status is a recognized MachineStatus.
func (s MachineStatus) IsValid() bool {
	switch s {
	case MachineActive, MachineInactive, MachineMaintenance, MachineRetired:
		return true
	}
	return false
}

// Machine represents a client PC that boots from the network.
//
// The MAC address is stored in canonical form and is the key that ties
// together the DHCP reservation, the TFTP script filename, and the derived
// iSCSI initiator IQN.
type Machine struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Description string     `gorm:"size:1024" json:"description,omitempty"`
	MAC         string     `gorm:"uniqueIndex;not null;size:17" json:"mac"`
	IP          string     `gorm:"size:15" json:"ip,omitempty"`
	Hostname    string     `gorm:"size:255" json:"hostname,omitempty"`
	BootMode    string     `gorm:"size:20;default:uefi" json:"boot_mode"`
	SecureBoot  bool       `gorm:"default:false" json:"secure_boot"`
	Status      string     `gorm:"size:20;index;default:active" json:"status"`
	IsOnline    bool       `gorm:"index;default:false" json:"is_online"`
	LastSeen    *time.Time `gorm:"index" json:"last_seen,omitempty"`
	Location    string     `gorm:"size:255" json:"location,omitempty"`
	Row         string     `gorm:"size:50" json:"row,omitempty"`
	Seat        string     `gorm:"size:50" json:"seat,omitempty"`
	BootCount   int        `gorm:"default:0" json:"boot_count"`

	// ExtraConfig holds free-form per-machine overrides.
	ExtraConfig map[string]string `gorm:"serializer:json" json:"extra_config,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Machine.
func (Machine) TableName() string {
	return "machines"
}

// GetStatus returns the machine status as a MachineStatus type.
func (m *Machine) GetStatus() MachineStatus {
	return MachineStatus(m.Status)
}

// IsActive reports whether the machine may be the target of a session start.
func (m *Machine) IsActive() bool {
	return m.GetStatus() == MachineActive
}

// Slug returns a lowercase identifier derived from the machine name, used to
// label its DHCP host block.
func (m *Machine) Slug() string {
	slug := strings.ToLower(m.Name)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "machine-" + MACPlain(m.MAC)
	}
	return slug
}

// Validate checks if the machine has valid configuration. The MAC must
// already be canonical; use CanonicalMAC before assignment.
func (m *Machine) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("machine name is required")
	}
	if !macPattern.MatchString(m.MAC) {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, m.MAC)
	}
	if m.IP != "" {
		ip := net.ParseIP(m.IP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: %q", ErrInvalidIP, m.IP)
		}
	}
	if m.BootMode != "" && !BootMode(m.BootMode).IsValid() {
		return fmt.Errorf("invalid boot mode %q", m.BootMode)
	}
	if m.Status != "" && !MachineStatus(m.Status).IsValid() {
		return fmt.Errorf("invalid machine status %q", m.Status)
	}
	return nil
}
