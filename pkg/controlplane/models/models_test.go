package models

import (
	"errors"
	"testing"
	"time"
)

func TestCanonicalMAC(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already canonical", "aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff", false},
		{"uppercase hyphens", "AA-bb-CC-dd-EE-ff", "aa:bb:cc:dd:ee:ff", false},
		{"bare hex", "001122334455", "00:11:22:33:44:55", false},
		{"dotted", "0011.2233.4455", "00:11:22:33:44:55", false},
		{"surrounding space", "  00:11:22:33:44:55 ", "00:11:22:33:44:55", false},
		{"too short", "00:11:22:33:44", "", true},
		{"too long", "00:11:22:33:44:55:66", "", true},
		{"non-hex", "zz:11:22:33:44:55", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalMAC(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidMAC) {
					t.Errorf("expected ErrInvalidMAC, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanonicalMAC(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMACEncodings(t *testing.T) {
	mac := "00:11:22:33:44:55"
	if got := MACHyphens(mac); got != "00-11-22-33-44-55" {
		t.Errorf("MACHyphens = %q", got)
	}
	if got := MACPlain(mac); got != "001122334455" {
		t.Errorf("MACPlain = %q", got)
	}
}

func TestIQNDerivation(t *testing.T) {
	prefix := "iqn.2025.ggnet"

	targetID := TargetIDForMachine(7)
	if targetID != "machine_7" {
		t.Errorf("TargetIDForMachine(7) = %q", targetID)
	}
	if got := IQNFor(prefix, targetID); got != "iqn.2025.ggnet:target-machine_7" {
		t.Errorf("IQNFor = %q", got)
	}
	if got := InitiatorIQNFor(prefix, "00:11:22:33:44:55"); got != "iqn.2025.ggnet:initiator-001122334455" {
		t.Errorf("InitiatorIQNFor = %q", got)
	}
}

func TestImageStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to ImageStatus }{
		{ImageUploading, ImageProcessing},
		{ImageProcessing, ImageConverting},
		{ImageProcessing, ImageReady},
		{ImageConverting, ImageReady},
		{ImageConverting, ImageError},
		{ImageError, ImageProcessing}, // explicit retry
		{ImageReady, ImageDeleted},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to ImageStatus }{
		{ImageReady, ImageProcessing},
		{ImageReady, ImageConverting},
		{ImageConverting, ImageUploading},
		{ImageDeleted, ImageProcessing},
		{ImageDeleted, ImageReady},
		{ImageProcessing, ImageUploading},
	}
	for _, tr := range forbidden {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be forbidden", tr.from, tr.to)
		}
	}
}

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     ImageFormat
		wantErr  bool
	}{
		{"win11.vhdx", FormatVHDX, false},
		{"disk.VHD", FormatVHD, false},
		{"base.raw", FormatRAW, false},
		{"base.img", FormatRAW, false},
		{"base.qcow2", FormatQCOW2, false},
		{"notes.txt", "", true},
		{"noextension", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFromFilename(tt.filename)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidImageFormat) {
				t.Errorf("%q: expected ErrInvalidImageFormat, got %v", tt.filename, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.filename, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatFromFilename(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestMachineValidate(t *testing.T) {
	valid := &Machine{Name: "pc-07", MAC: "00:11:22:33:44:55", IP: "192.168.1.107"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid machine rejected: %v", err)
	}

	badMAC := &Machine{Name: "pc-07", MAC: "00:11:22:33:44"}
	if err := badMAC.Validate(); !errors.Is(err, ErrInvalidMAC) {
		t.Errorf("expected ErrInvalidMAC, got %v", err)
	}

	badIP := &Machine{Name: "pc-07", MAC: "00:11:22:33:44:55", IP: "999.1.1.1"}
	if err := badIP.Validate(); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}

	ipv6 := &Machine{Name: "pc-07", MAC: "00:11:22:33:44:55", IP: "fe80::1"}
	if err := ipv6.Validate(); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP for v6 address, got %v", err)
	}
}

func TestMachineSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Gaming PC 07", "gaming-pc-07"},
		{"pc-07", "pc-07"},
		{"  PC  ", "pc"},
	}
	for _, tt := range tests {
		m := &Machine{Name: tt.name, MAC: "00:11:22:33:44:55"}
		if got := m.Slug(); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	// A name with no usable characters falls back to the MAC.
	m := &Machine{Name: "---", MAC: "00:11:22:33:44:55"}
	if got := m.Slug(); got != "machine-001122334455" {
		t.Errorf("fallback slug = %q", got)
	}
}

func TestSessionComputeDurations(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	boot := start.Add(5 * time.Second)
	ready := start.Add(35 * time.Second)
	end := start.Add(2 * time.Hour)

	s := &Session{
		SessionID: "s1",
		MachineID: 7,
		StartedAt: start,
		BootAt:    &boot,
		ReadyAt:   &ready,
		EndedAt:   &end,
	}
	s.ComputeDurations()

	if s.BootDurationSec != 30 {
		t.Errorf("BootDurationSec = %v, want 30", s.BootDurationSec)
	}
	if s.TotalDurationSec != 7200 {
		t.Errorf("TotalDurationSec = %v, want 7200", s.TotalDurationSec)
	}
}

func TestSessionValidate(t *testing.T) {
	start := time.Now()
	before := start.Add(-time.Minute)

	s := &Session{SessionID: "s1", MachineID: 7, StartedAt: start, EndedAt: &before}
	if err := s.Validate(); err == nil {
		t.Error("expected error for ended_at before started_at")
	}

	ok := &Session{SessionID: "s1", MachineID: 7, Type: string(SessionDisklessBoot), Status: string(SessionActive), StartedAt: start}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}
}

func TestUserRolesAndLocking(t *testing.T) {
	admin := &User{Username: "a", Role: string(RoleAdmin)}
	operator := &User{Username: "o", Role: string(RoleOperator)}
	viewer := &User{Username: "v", Role: string(RoleViewer)}

	if !admin.IsAdmin() || !admin.CanOperate() {
		t.Error("admin should operate")
	}
	if operator.IsAdmin() || !operator.CanOperate() {
		t.Error("operator should operate but not be admin")
	}
	if viewer.CanOperate() {
		t.Error("viewer should not operate")
	}

	until := time.Now().Add(10 * time.Minute)
	locked := &User{Username: "l", LockedUntil: &until}
	if !locked.IsLocked(time.Now()) {
		t.Error("expected user to be locked")
	}
	if locked.IsLocked(until.Add(time.Second)) {
		t.Error("expected lock to expire")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2melon")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter2melon") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}
