// Package iscsi drives the host's in-kernel iSCSI target through targetcli.
//
// One targetcli sub-command runs at a time; the kernel configfs backend does
// not tolerate concurrent editors, so the adapter serializes all calls behind
// a process-wide mutex.
package iscsi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ggnet/ggboot/internal/execx"
	"github.com/ggnet/ggboot/internal/logger"
)

const (
	// DefaultPortalPort is the standard iSCSI portal port.
	DefaultPortalPort = 3260

	commandTimeout = 30 * time.Second
)

// CLIError wraps a targetcli failure with the captured stderr tail.
type CLIError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CLIError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("targetcli %s failed: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("targetcli %s failed: %v", e.Command, e.Err)
}

func (e *CLIError) Unwrap() error { return e.Err }

// Config holds iSCSI adapter settings.
type Config struct {
	// IQNPrefix is the naming authority prefix for generated IQNs, for
	// example iqn.2025.ggnet.
	IQNPrefix string `mapstructure:"iqn_prefix" yaml:"iqn_prefix"`
	// PortalIP is the address the target portal binds to.
	PortalIP string `mapstructure:"portal_ip" yaml:"portal_ip"`
	// PortalPort is the portal port, 3260 by default.
	PortalPort int `mapstructure:"portal_port" yaml:"portal_port"`
	// Binary is the targetcli executable.
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.IQNPrefix == "" {
		c.IQNPrefix = "iqn.2025.ggnet"
	}
	if c.PortalPort == 0 {
		c.PortalPort = DefaultPortalPort
	}
	if c.Binary == "" {
		c.Binary = "targetcli"
	}
}

// TargetInfo describes one provisioned target.
type TargetInfo struct {
	TargetID     string    `json:"target_id"`
	IQN          string    `json:"iqn"`
	InitiatorIQN string    `json:"initiator_iqn"`
	PortalIP     string    `json:"portal_ip"`
	PortalPort   int       `json:"portal_port"`
	Backstore    string    `json:"backstore"`
	LUN          int       `json:"lun"`
	CreatedAt    time.Time `json:"created_at"`
}

// TargetStatus is the parsed live state of one target.
type TargetStatus struct {
	IQN     string   `json:"iqn"`
	LUNs    []string `json:"luns"`
	ACLs    []string `json:"acls"`
	Portals []string `json:"portals"`
	Active  bool     `json:"active"`
}

// Adapter wraps targetcli invocations.
type Adapter struct {
	cfg Config
	run execx.Runner

	// mu serializes every targetcli invocation process-wide.
	mu sync.Mutex
}

// NewAdapter returns an adapter using the given runner, or execx.Run if nil.
func NewAdapter(cfg Config, run execx.Runner) *Adapter {
	if run == nil {
		run = execx.Run
	}
	return &Adapter{cfg: cfg, run: run}
}

// IQNPrefix returns the configured naming authority prefix.
func (a *Adapter) IQNPrefix() string {
	return a.cfg.IQNPrefix
}

// BackstoreFor returns the backstore name for a target id.
func BackstoreFor(targetID string) string {
	return "img_" + targetID
}

// cli runs one targetcli sub-command. The caller must hold a.mu.
func (a *Adapter) cli(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := a.run(ctx, a.cfg.Binary, args...)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = execx.StderrTail(res.Stderr)
		}
		return &CLIError{Command: strings.Join(args, " "), Stderr: stderr, Err: err}
	}
	return nil
}

// cliOutput runs one targetcli sub-command and returns its stdout. The
// caller must hold a.mu.
func (a *Adapter) cliOutput(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := a.run(ctx, a.cfg.Binary, args...)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = execx.StderrTail(res.Stderr)
		}
		return "", &CLIError{Command: strings.Join(args, " "), Stderr: stderr, Err: err}
	}
	return res.Stdout, nil
}

// isNotFound reports whether a targetcli error is a missing-object
// complaint, which delete paths tolerate.
func isNotFound(err error) bool {
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		return false
	}
	msg := strings.ToLower(cliErr.Stderr + " " + cliErr.Err.Error())
	return strings.Contains(msg, "no such") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist")
}

// CreateCompleteTarget provisions backstore, target, LUN 0, ACL, and portal
// in one call, persisting the configuration at the end. On any failure the
// objects created so far are torn down before the error is returned.
func (a *Adapter) CreateCompleteTarget(ctx context.Context, targetID, imagePath, initiatorIQN, description string) (*TargetInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	iqn := a.cfg.IQNPrefix + ":target-" + targetID
	backstore := BackstoreFor(targetID)

	type step struct {
		name string
		args []string
	}
	steps := []step{
		{"backstore", []string{"/backstores/fileio", "create",
			"name=" + backstore, "file_or_dev=" + imagePath}},
		{"target", []string{"/iscsi", "create", iqn}},
		{"lun", []string{"/iscsi/" + iqn + "/tpg1/luns", "create",
			"/backstores/fileio/" + backstore}},
		{"acl", []string{"/iscsi/" + iqn + "/tpg1/acls", "create", initiatorIQN}},
		{"portal", []string{"/iscsi/" + iqn + "/tpg1/portals", "create",
			a.cfg.PortalIP, fmt.Sprintf("%d", a.cfg.PortalPort)}},
	}

	for i, s := range steps {
		if err := a.cli(ctx, s.args...); err != nil {
			logger.Error("target provisioning failed, unwinding",
				logger.TargetID(targetID),
				logger.Tool("targetcli"),
				slog.String("step", s.name),
				logger.Err(err))
			a.unwind(ctx, iqn, backstore, i)
			return nil, err
		}
	}

	if err := a.saveConfigLocked(ctx); err != nil {
		a.unwind(ctx, iqn, backstore, len(steps))
		return nil, err
	}

	logger.Info("iscsi target created",
		logger.TargetID(targetID),
		logger.IQN(iqn),
		logger.Path(imagePath))

	return &TargetInfo{
		TargetID:     targetID,
		IQN:          iqn,
		InitiatorIQN: initiatorIQN,
		PortalIP:     a.cfg.PortalIP,
		PortalPort:   a.cfg.PortalPort,
		Backstore:    backstore,
		LUN:          0,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// unwind best-effort deletes the objects created by the first completed
// steps of CreateCompleteTarget. Caller must hold a.mu.
func (a *Adapter) unwind(ctx context.Context, iqn, backstore string, completed int) {
	// The target delete removes LUNs, ACLs, and portals with it.
	if completed >= 2 {
		if err := a.cli(ctx, "/iscsi", "delete", iqn); err != nil && !isNotFound(err) {
			logger.Warn("unwind: deleting target failed", logger.IQN(iqn), logger.Err(err))
		}
	}
	if completed >= 1 {
		if err := a.cli(ctx, "/backstores/fileio", "delete", backstore); err != nil && !isNotFound(err) {
			logger.Warn("unwind: deleting backstore failed",
				slog.String("backstore", backstore), logger.Err(err))
		}
	}
}

// DeleteTarget removes a target and its backstore in reverse creation order.
// Missing objects are tolerated so the call is idempotent, and the config is
// persisted afterwards.
func (a *Adapter) DeleteTarget(ctx context.Context, targetID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	iqn := a.cfg.IQNPrefix + ":target-" + targetID
	backstore := BackstoreFor(targetID)

	if err := a.cli(ctx, "/iscsi", "delete", iqn); err != nil && !isNotFound(err) {
		return err
	}
	if err := a.cli(ctx, "/backstores/fileio", "delete", backstore); err != nil && !isNotFound(err) {
		return err
	}
	if err := a.saveConfigLocked(ctx); err != nil {
		return err
	}

	logger.Info("iscsi target deleted", logger.TargetID(targetID), logger.IQN(iqn))
	return nil
}

// ListTargets parses `targetcli /iscsi ls` into the IQNs currently live.
func (a *Adapter) ListTargets(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out, err := a.cliOutput(ctx, "/iscsi", "ls")
	if err != nil {
		return nil, err
	}
	return parseIQNs(out), nil
}

// GetTargetStatus parses the live state of one target.
func (a *Adapter) GetTargetStatus(ctx context.Context, targetID string) (*TargetStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	iqn := a.cfg.IQNPrefix + ":target-" + targetID
	out, err := a.cliOutput(ctx, "/iscsi/"+iqn+"/tpg1", "ls")
	if err != nil {
		if isNotFound(err) {
			return &TargetStatus{IQN: iqn, Active: false}, nil
		}
		return nil, err
	}

	status := parseTPGListing(out)
	status.IQN = iqn
	status.Active = true
	return status, nil
}

// SaveConfig persists the running configuration to disk.
func (a *Adapter) SaveConfig(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveConfigLocked(ctx)
}

func (a *Adapter) saveConfigLocked(ctx context.Context) error {
	return a.cli(ctx, "saveconfig")
}
