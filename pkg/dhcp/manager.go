// Package dhcp edits the DHCP server's host reservation file.
//
// Reservations live in an include file between a fence marker and the end of
// the file, one labeled host block per machine. Every edit is validated with
// the daemon's dry-run mode before the service is reloaded; a failed dry-run
// restores the previous file content.
package dhcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ggnet/ggboot/internal/execx"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/ipxe"
)

// FenceMarker opens the managed region. Everything from this line to the end
// of the file belongs to the manager.
const FenceMarker = "# GGnet machines"

const (
	validateTimeout = 10 * time.Second
	reloadTimeout   = 10 * time.Second

	configMode = 0o644
)

// Error wraps a DHCP subsystem failure with the failing stage attached.
type Error struct {
	Stage  string // read, write, validate, reload
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("dhcp %s failed: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("dhcp %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds DHCP manager settings.
type Config struct {
	// ConfigPath is the include file holding the managed host blocks.
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
	// MainConfigPath is handed to the daemon's dry-run (-cf). Defaults to
	// ConfigPath.
	MainConfigPath string `mapstructure:"main_config_path" yaml:"main_config_path"`
	// ServiceName is the systemd unit reloaded after edits.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// NextServer is the TFTP server address written into host blocks.
	NextServer string `mapstructure:"next_server" yaml:"next_server"`
	// DaemonBinary is the dhcpd executable used for dry-run validation.
	DaemonBinary string `mapstructure:"daemon_binary" yaml:"daemon_binary"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.ConfigPath == "" {
		c.ConfigPath = "/etc/dhcp/ggboot-machines.conf"
	}
	if c.MainConfigPath == "" {
		c.MainConfigPath = c.ConfigPath
	}
	if c.ServiceName == "" {
		c.ServiceName = "isc-dhcp-server"
	}
	if c.DaemonBinary == "" {
		c.DaemonBinary = "dhcpd"
	}
}

// Status reports the manager's view of the DHCP subsystem.
type Status struct {
	ServiceRunning bool `json:"service_running"`
	ConfigValid    bool `json:"config_valid"`
	HostCount      int  `json:"host_count"`
}

// Manager serializes edits to the reservation file.
type Manager struct {
	cfg Config
	run execx.Runner

	mu sync.Mutex
}

// NewManager returns a manager using the given runner, or execx.Run if nil.
// The reservation file is created with the fence marker if missing.
func NewManager(cfg Config, run execx.Runner) (*Manager, error) {
	if run == nil {
		run = execx.Run
	}
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		initial := FenceMarker + "\n"
		if err := writeConfigAtomic(cfg.ConfigPath, []byte(initial)); err != nil {
			return nil, &Error{Stage: "write", Err: err}
		}
	}
	return &Manager{cfg: cfg, run: run}, nil
}

// hostBlockLabel returns the daemon-side label of a machine's host block.
func hostBlockLabel(machine *models.Machine) string {
	return "ggboot-" + machine.Slug()
}

// formatHostBlock renders one host reservation.
func formatHostBlock(machine *models.Machine, nextServer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host %s {\n", hostBlockLabel(machine))
	fmt.Fprintf(&b, "    hardware ethernet %s;\n", machine.MAC)
	if machine.IP != "" {
		fmt.Fprintf(&b, "    fixed-address %s;\n", machine.IP)
	}
	if nextServer != "" {
		fmt.Fprintf(&b, "    next-server %s;\n", nextServer)
	}
	fmt.Fprintf(&b, "    filename %q;\n", ipxe.FilenameFor(machine))
	b.WriteString("}\n")
	return b.String()
}

// AddMachine appends the machine's host block inside the fence, validates,
// and reloads the daemon. An existing block for the same machine is replaced.
func (m *Manager) AddMachine(ctx context.Context, machine *models.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, err := m.readConfig()
	if err != nil {
		return err
	}

	// Replace any stale block for this machine before appending.
	content := removeHostBlock(original, hostBlockLabel(machine))
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n" + formatHostBlock(machine, m.cfg.NextServer)

	return m.applyConfig(ctx, original, content, machine.MAC)
}

// RemoveMachine excises the machine's host block. A missing block is not an
// error and triggers no reload.
func (m *Manager) RemoveMachine(ctx context.Context, machine *models.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, err := m.readConfig()
	if err != nil {
		return err
	}

	content := removeHostBlock(original, hostBlockLabel(machine))
	if content == original {
		return nil
	}
	return m.applyConfig(ctx, original, content, machine.MAC)
}

// GetStatus reports daemon liveness, config validity, and host count.
func (m *Manager) GetStatus(ctx context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.readConfig()
	if err != nil {
		return nil, err
	}

	status := &Status{
		HostCount: strings.Count(content, "host ggboot-"),
	}
	status.ConfigValid = m.validate(ctx) == nil

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if _, err := m.run(probeCtx, "systemctl", "is-active", "--quiet", m.cfg.ServiceName); err == nil {
		status.ServiceRunning = true
	}
	return status, nil
}

func (m *Manager) readConfig() (string, error) {
	data, err := os.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return "", &Error{Stage: "read", Err: err}
	}
	return string(data), nil
}

// applyConfig writes the new content, dry-runs the daemon against it, and
// reloads the service. On validation failure the original content is
// restored and the edit is reported as failed.
func (m *Manager) applyConfig(ctx context.Context, original, content, mac string) error {
	if err := writeConfigAtomic(m.cfg.ConfigPath, []byte(content)); err != nil {
		return &Error{Stage: "write", Err: err}
	}

	if err := m.validate(ctx); err != nil {
		if restoreErr := writeConfigAtomic(m.cfg.ConfigPath, []byte(original)); restoreErr != nil {
			logger.Error("failed to restore dhcp config after rejected edit",
				logger.Path(m.cfg.ConfigPath), logger.Err(restoreErr))
		}
		return err
	}

	if err := m.reload(ctx); err != nil {
		return err
	}

	logger.Info("dhcp config updated",
		logger.MAC(mac),
		logger.Path(m.cfg.ConfigPath))
	return nil
}

func (m *Manager) validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	res, err := m.run(ctx, m.cfg.DaemonBinary, "-t", "-cf", m.cfg.MainConfigPath)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = execx.StderrTail(res.Stderr)
		}
		return &Error{Stage: "validate", Stderr: stderr, Err: err}
	}
	return nil
}

func (m *Manager) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()

	res, err := m.run(ctx, "systemctl", "reload", m.cfg.ServiceName)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = execx.StderrTail(res.Stderr)
		}
		return &Error{Stage: "reload", Stderr: stderr, Err: err}
	}
	return nil
}

// writeConfigAtomic writes data to a temp file next to the target, fsyncs it,
// then renames it into place so the daemon never sees a torn file.
func writeConfigAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, configMode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// hostBlockPattern matches a whole labeled host block including trailing
// newline. Labels are slug-derived so no regex metacharacters appear, but
// QuoteMeta keeps that assumption out of the parser.
func hostBlockPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?ms)^host ` + regexp.QuoteMeta(label) + ` \{.*?^\}\n?`)
}

func removeHostBlock(content, label string) string {
	out := hostBlockPattern(label).ReplaceAllString(content, "")
	// Collapse blank runs left by the excised block.
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out
}
