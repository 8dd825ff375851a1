// Package tftp manages boot artifacts under the TFTP root directory.
//
// The manager owns two subtrees: machines/ holds one iPXE script per client
// MAC, boot/ holds the generic chain loader and fallback files. All writes
// are atomic (write to temp file, fsync, rename) so the TFTP daemon never
// serves a half-written script.
package tftp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggnet/ggboot/internal/execx"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/ipxe"
)

const (
	machinesDir = "machines"
	bootDir     = "boot"

	// GenericScriptName is the fallback script under boot/.
	GenericScriptName = "boot.ipxe"

	scriptMode = 0o644
	dirMode    = 0o755
)

// ServiceProber reports whether the TFTP daemon is running.
type ServiceProber interface {
	IsActive(ctx context.Context) bool
}

// SystemctlProber probes a systemd unit with `systemctl is-active`.
type SystemctlProber struct {
	Unit string
	Run  execx.Runner
}

// IsActive reports whether the unit is active. Probe failures count as not
// running.
func (p *SystemctlProber) IsActive(ctx context.Context) bool {
	run := p.Run
	if run == nil {
		run = execx.Run
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := run(ctx, "systemctl", "is-active", "--quiet", p.Unit)
	return err == nil
}

// Config holds TFTP manager settings.
type Config struct {
	// Root is the TFTP served directory.
	Root string `mapstructure:"root" yaml:"root"`
	// ServiceName is the systemd unit of the TFTP daemon, probed for status.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = "/srv/tftp"
	}
	if c.ServiceName == "" {
		c.ServiceName = "tftpd-hpa"
	}
}

// Manager writes and removes boot scripts under the TFTP root.
type Manager struct {
	root   string
	prober ServiceProber
}

// ScriptInfo describes one installed per-machine script.
type ScriptInfo struct {
	Filename string    `json:"filename"`
	MAC      string    `json:"mac"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Status reports the manager's view of the TFTP subsystem.
type Status struct {
	ServiceRunning bool `json:"service_running"`
	MachineScripts int  `json:"machine_scripts"`
	BootFiles      int  `json:"boot_files"`
}

// NewManager creates the subtrees under root if missing.
func NewManager(cfg Config, prober ServiceProber) (*Manager, error) {
	for _, dir := range []string{
		filepath.Join(cfg.Root, machinesDir),
		filepath.Join(cfg.Root, bootDir),
	} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("creating tftp directory %s: %w", dir, err)
		}
	}
	return &Manager{root: cfg.Root, prober: prober}, nil
}

// Root returns the served directory.
func (m *Manager) Root() string {
	return m.root
}

// InstallMachineScript atomically writes the boot script for a machine.
func (m *Manager) InstallMachineScript(machine *models.Machine, text string) error {
	path := filepath.Join(m.root, ipxe.FilenameFor(machine))
	if err := writeFileAtomic(path, []byte(text)); err != nil {
		return fmt.Errorf("installing boot script for %s: %w", machine.MAC, err)
	}
	logger.Debug("installed machine boot script",
		logger.MAC(machine.MAC),
		logger.Path(path),
		logger.Size(int64(len(text))))
	return nil
}

// RemoveMachineScript unlinks a machine's boot script. A missing file is not
// an error.
func (m *Manager) RemoveMachineScript(machine *models.Machine) error {
	path := filepath.Join(m.root, ipxe.FilenameFor(machine))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing boot script for %s: %w", machine.MAC, err)
	}
	logger.Debug("removed machine boot script", logger.MAC(machine.MAC), logger.Path(path))
	return nil
}

// InstallGenericScript atomically writes the fallback script under boot/.
func (m *Manager) InstallGenericScript(text string) error {
	path := filepath.Join(m.root, bootDir, GenericScriptName)
	if err := writeFileAtomic(path, []byte(text)); err != nil {
		return fmt.Errorf("installing generic boot script: %w", err)
	}
	return nil
}

// ListMachineScripts returns the installed per-machine scripts.
func (m *Manager) ListMachineScripts() ([]ScriptInfo, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, machinesDir))
	if err != nil {
		return nil, fmt.Errorf("reading machines directory: %w", err)
	}

	var scripts []ScriptInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ipxe") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mac := strings.TrimSuffix(entry.Name(), ".ipxe")
		canonical, err := models.CanonicalMAC(mac)
		if err != nil {
			// Not one of ours.
			continue
		}
		scripts = append(scripts, ScriptInfo{
			Filename: entry.Name(),
			MAC:      canonical,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return scripts, nil
}

// GCOlderThan removes machine scripts not modified within maxAge. Returns
// the number of files removed.
func (m *Manager) GCOlderThan(maxAge time.Duration) (int, error) {
	scripts, err := m.ListMachineScripts()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, script := range scripts {
		if script.Modified.After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, machinesDir, script.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale script %s: %w", script.Filename, err)
		}
		removed++
	}
	if removed > 0 {
		logger.Info("garbage collected stale boot scripts", logger.Count(removed))
	}
	return removed, nil
}

// GetStatus reports daemon liveness and artifact counts.
func (m *Manager) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}
	if m.prober != nil {
		status.ServiceRunning = m.prober.IsActive(ctx)
	}

	scripts, err := m.ListMachineScripts()
	if err != nil {
		return nil, err
	}
	status.MachineScripts = len(scripts)

	entries, err := os.ReadDir(filepath.Join(m.root, bootDir))
	if err != nil {
		return nil, fmt.Errorf("reading boot directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			status.BootFiles++
		}
	}
	return status, nil
}

// writeFileAtomic writes data to a temp file in the target directory, fsyncs
// it, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
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
	if err := os.Chmod(tmpName, scriptMode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
