// Package orchestrator coordinates boot session lifecycles.
//
// A session start provisions the iSCSI target, installs the client's boot
// script under the TFTP root, and adds its DHCP reservation, in that order;
// a client that boots the moment DHCP changes always finds both the boot
// file and the target. Any failure along the way runs the inverse steps in
// reverse order so a failed start leaves nothing behind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ggnet/ggboot/internal/keymutex"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/ggnet/ggboot/pkg/ipxe"
	"github.com/ggnet/ggboot/pkg/iscsi"
	"github.com/ggnet/ggboot/pkg/metrics"
	"github.com/ggnet/ggboot/pkg/tftp"
)

// TargetAdapter is the iSCSI surface the orchestrator needs.
type TargetAdapter interface {
	CreateCompleteTarget(ctx context.Context, targetID, imagePath, initiatorIQN, description string) (*iscsi.TargetInfo, error)
	DeleteTarget(ctx context.Context, targetID string) error
	ListTargets(ctx context.Context) ([]string, error)
	IQNPrefix() string
}

// TFTPManager is the TFTP surface the orchestrator needs.
type TFTPManager interface {
	InstallMachineScript(machine *models.Machine, text string) error
	RemoveMachineScript(machine *models.Machine) error
	ListMachineScripts() ([]tftp.ScriptInfo, error)
}

// DHCPManager is the DHCP surface the orchestrator needs.
type DHCPManager interface {
	AddMachine(ctx context.Context, machine *models.Machine) error
	RemoveMachine(ctx context.Context, machine *models.Machine) error
}

// Config holds orchestrator settings.
type Config struct {
	// ServerIP is the address clients reach for iSCSI and TFTP.
	ServerIP string `mapstructure:"server_ip" yaml:"server_ip"`
	// PortalPort is the iSCSI portal port reported to clients.
	PortalPort int `mapstructure:"portal_port" yaml:"portal_port"`
	// FallbackURL is chained in boot scripts after sanboot failure.
	FallbackURL string `mapstructure:"fallback_url" yaml:"fallback_url"`
	// WatchdogInterval is the reconciler period.
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval" yaml:"watchdog_interval"`
	// ActivityTimeout is how long a session may go without a client
	// keep-alive before the watchdog times it out.
	ActivityTimeout time.Duration `mapstructure:"client_activity_timeout" yaml:"client_activity_timeout"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.PortalPort == 0 {
		c.PortalPort = iscsi.DefaultPortalPort
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 60 * time.Second
	}
	if c.ActivityTimeout <= 0 {
		c.ActivityTimeout = 15 * time.Minute
	}
}

// ISCSIDetails is the connection information returned to API callers.
type ISCSIDetails struct {
	IQN          string `json:"iqn"`
	InitiatorIQN string `json:"initiator_iqn"`
	PortalIP     string `json:"portal_ip"`
	PortalPort   int    `json:"portal_port"`
	LUN          int    `json:"lun"`
}

// StartResult is the descriptor returned by a successful start.
type StartResult struct {
	Session       *models.Session   `json:"session"`
	Target        *iscsi.TargetInfo `json:"target_info"`
	BootScript    string            `json:"boot_script"`
	IPXEScriptURL string            `json:"ipxe_script_url"`
	ISCSI         *ISCSIDetails     `json:"iscsi_details"`
}

// StopResult identifies what a stop released.
type StopResult struct {
	SessionID string `json:"session_id"`
	MachineID uint   `json:"machine_id"`
}

// Orchestrator drives session starts, stops, and the reconciler.
type Orchestrator struct {
	cfg     Config
	store   store.Store
	targets TargetAdapter
	tftp    TFTPManager
	dhcp    DHCPManager

	// locks linearizes starts and stops per machine within this process.
	// The partial unique index on live sessions closes the cross-process
	// race.
	locks *keymutex.KeyMutex[uint]

	// onSessionEnded is invoked when a session reaches a terminal status.
	onSessionEnded func(sess *models.Session)

	// metrics is optional; nil disables collection.
	metrics metrics.BootMetrics
}

// New builds an orchestrator.
func New(cfg Config, st store.Store, targets TargetAdapter, tftp TFTPManager, dhcp DHCPManager) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		targets: targets,
		tftp:    tftp,
		dhcp:    dhcp,
		locks:   keymutex.New[uint](),
	}
}

// SetSessionEndedHook registers a callback fired when sessions end.
func (o *Orchestrator) SetSessionEndedHook(fn func(sess *models.Session)) {
	o.onSessionEnded = fn
}

// SetMetrics attaches a metrics collector. Pass nil to disable.
func (o *Orchestrator) SetMetrics(m metrics.BootMetrics) {
	o.metrics = m
}

// refreshActiveSessions updates the live session gauge from the database.
func (o *Orchestrator) refreshActiveSessions(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	stats, err := o.store.GetSessionStats(ctx)
	if err != nil {
		logger.Debug("refreshing session gauge failed", logger.Err(err))
		return
	}
	o.metrics.SetActiveSessions(stats.Live)
}

func (o *Orchestrator) serverConfig() ipxe.ServerConfig {
	return ipxe.ServerConfig{
		PortalIP:    o.cfg.ServerIP,
		PortalPort:  o.cfg.PortalPort,
		FallbackURL: o.cfg.FallbackURL,
	}
}

// Start provisions a boot session for (machine, image). See the package
// comment for the ordering contract.
func (o *Orchestrator) Start(ctx context.Context, machineID, imageID uint, sessionType, description, actor string) (*StartResult, error) {
	result, err := o.start(ctx, machineID, imageID, sessionType, description, actor)
	if o.metrics != nil {
		if err != nil {
			o.metrics.RecordSessionStart("error")
		} else {
			o.metrics.RecordSessionStart("success")
			o.refreshActiveSessions(ctx)
		}
	}
	return result, err
}

func (o *Orchestrator) start(ctx context.Context, machineID, imageID uint, sessionType, description, actor string) (*StartResult, error) {
	o.locks.Lock(machineID)
	defer o.locks.Unlock(machineID)

	machine, err := o.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	image, err := o.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if !machine.IsActive() {
		return nil, fmt.Errorf("%w: machine %s is %s",
			models.ErrMachineNotActive, machine.Name, machine.Status)
	}
	if !image.IsReady() {
		return nil, fmt.Errorf("%w: image %s is %s",
			models.ErrImageNotReady, image.Name, image.Status)
	}

	if _, err := o.store.GetLiveSessionForMachine(ctx, machineID); err == nil {
		return nil, fmt.Errorf("%w: machine %s already has a live session",
			models.ErrSessionConflict, machine.Name)
	} else if !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	if _, err := o.store.GetTargetForMachine(ctx, machineID); err == nil {
		return nil, fmt.Errorf("%w: machine %s", models.ErrMachineHasTarget, machine.Name)
	} else if !errors.Is(err, models.ErrTargetNotFound) {
		return nil, err
	}

	if sessionType == "" {
		sessionType = string(models.SessionDisklessBoot)
	}

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx,
			lc.WithOperation("session.start").WithMachine(machineID, machine.MAC))
	}

	log := logger.With(
		logger.MachineID(machineID),
		logger.MAC(machine.MAC),
		logger.ImageID(imageID),
		logger.Actor(actor),
	)
	log.Info("starting session")

	targetID := models.TargetIDForMachine(machineID)
	initiatorIQN := models.InitiatorIQNFor(o.targets.IQNPrefix(), machine.MAC)

	// Step 1: provision the iSCSI target. The adapter unwinds itself on
	// failure.
	info, err := o.targets.CreateCompleteTarget(ctx, targetID, image.FilePath, initiatorIQN, description)
	if err != nil {
		log.Error("session start failed provisioning target", logger.Err(err))
		return nil, err
	}

	target := &models.Target{
		TargetID:     info.TargetID,
		IQN:          info.IQN,
		MachineID:    machineID,
		ImageID:      imageID,
		ImagePath:    image.FilePath,
		InitiatorIQN: info.InitiatorIQN,
		LUNID:        info.LUN,
		Status:       string(models.TargetActive),
		Description:  description,
	}
	if err := o.store.CreateTarget(ctx, target); err != nil {
		o.rollbackTarget(ctx, nil, target, log)
		return nil, err
	}

	// Step 2: install the TFTP boot script.
	script := ipxe.Generate(machine, target, image, o.serverConfig())
	if err := o.tftp.InstallMachineScript(machine, script); err != nil {
		log.Error("session start failed installing boot script", logger.Err(err))
		o.rollbackTarget(ctx, target, target, log)
		return nil, err
	}

	// Step 3: add the DHCP reservation.
	if err := o.dhcp.AddMachine(ctx, machine); err != nil {
		log.Error("session start failed updating dhcp", logger.Err(err))
		o.rollbackScript(machine, log)
		o.rollbackTarget(ctx, target, target, log)
		return nil, err
	}

	// Step 4: record the session. A unique-index conflict here means a
	// concurrent starter won the race in another process.
	now := time.Now()
	session := &models.Session{
		SessionID:    uuid.NewString(),
		Type:         sessionType,
		Status:       string(models.SessionActive),
		MachineID:    machineID,
		TargetID:     target.ID,
		ImageID:      imageID,
		ServerIP:     o.cfg.ServerIP,
		StartedAt:    now,
		LastActivity: &now,
		Description:  description,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		o.rollbackDHCP(ctx, machine, log)
		o.rollbackScript(machine, log)
		o.rollbackTarget(ctx, target, target, log)
		return nil, err
	}

	o.audit(ctx, models.AuditTargetCreated, actor, "target", target.ID, info.IQN)
	o.audit(ctx, models.AuditSessionStarted, actor, "session", session.ID,
		fmt.Sprintf("machine %s image %s", machine.Name, image.Name))
	log.Info("session started",
		logger.SessionID(session.SessionID),
		logger.IQN(info.IQN))

	return &StartResult{
		Session:       session,
		Target:        info,
		BootScript:    script,
		IPXEScriptURL: "/api/v1/boot/" + models.MACHyphens(machine.MAC) + "/script",
		ISCSI: &ISCSIDetails{
			IQN:          info.IQN,
			InitiatorIQN: info.InitiatorIQN,
			PortalIP:     info.PortalIP,
			PortalPort:   info.PortalPort,
			LUN:          info.LUN,
		},
	}, nil
}

// rollbackTarget deletes the target row (if row is non-nil) and the external
// target objects.
func (o *Orchestrator) rollbackTarget(ctx context.Context, row, target *models.Target, log *slog.Logger) {
	if row != nil {
		if err := o.store.DeleteTarget(ctx, row.ID); err != nil &&
			!errors.Is(err, models.ErrTargetNotFound) {
			log.Error("rollback: deleting target row failed", logger.Err(err))
		}
	}
	if err := o.targets.DeleteTarget(ctx, target.TargetID); err != nil {
		log.Error("rollback: deleting iscsi target failed", logger.Err(err))
	}
}

func (o *Orchestrator) rollbackScript(machine *models.Machine, log *slog.Logger) {
	if err := o.tftp.RemoveMachineScript(machine); err != nil {
		log.Error("rollback: removing boot script failed", logger.Err(err))
	}
}

func (o *Orchestrator) rollbackDHCP(ctx context.Context, machine *models.Machine, log *slog.Logger) {
	if err := o.dhcp.RemoveMachine(ctx, machine); err != nil {
		log.Error("rollback: removing dhcp reservation failed", logger.Err(err))
	}
}

// Stop tears down a session. Stopping an already-stopped session succeeds
// without touching external state; partial failures after the target is
// gone are recorded on the session but do not abort the stop.
func (o *Orchestrator) Stop(ctx context.Context, sessionID, actor string) (*StopResult, error) {
	return o.stop(ctx, sessionID, actor, models.SessionStopped)
}

func (o *Orchestrator) stop(ctx context.Context, sessionID, actor string, final models.SessionStatus) (*StopResult, error) {
	session, err := o.store.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	o.locks.Lock(session.MachineID)
	defer o.locks.Unlock(session.MachineID)

	// Reload under the lock; a concurrent stop may have finished already.
	session, err = o.store.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result := &StopResult{SessionID: session.SessionID, MachineID: session.MachineID}
	if !session.IsLive() {
		return result, nil
	}

	// Stop runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx,
			lc.WithOperation("session.stop").WithSession(session.SessionID))
	}

	log := logger.With(
		logger.SessionID(session.SessionID),
		logger.MachineID(session.MachineID),
		logger.Actor(actor),
	)
	log.Info("stopping session")

	machine, err := o.store.GetMachine(ctx, session.MachineID)
	if err != nil {
		return nil, err
	}

	var failures []string

	// The target teardown must succeed; everything after it is best-effort.
	targetID := models.TargetIDForMachine(session.MachineID)
	target, targetErr := o.store.GetTargetForMachine(ctx, session.MachineID)
	if targetErr == nil {
		targetID = target.TargetID
	}
	if err := o.targets.DeleteTarget(ctx, targetID); err != nil {
		log.Error("stopping session failed deleting target", logger.Err(err))
		return nil, err
	}

	if err := o.dhcp.RemoveMachine(ctx, machine); err != nil {
		log.Error("stop: removing dhcp reservation failed", logger.Err(err))
		failures = append(failures, fmt.Sprintf("dhcp: %v", err))
	}
	if err := o.tftp.RemoveMachineScript(machine); err != nil {
		log.Error("stop: removing boot script failed", logger.Err(err))
		failures = append(failures, fmt.Sprintf("tftp: %v", err))
	}

	now := time.Now()
	session.Status = string(final)
	session.EndedAt = &now
	session.ComputeDurations()
	if len(failures) > 0 {
		session.ErrorMessage = "stop completed with failures: " +
			fmt.Sprintf("%v", failures)
	}
	if err := o.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	if target != nil {
		if err := o.store.DeleteTarget(ctx, target.ID); err != nil &&
			!errors.Is(err, models.ErrTargetNotFound) {
			log.Error("stop: deleting target row failed", logger.Err(err))
		}
	}

	action := models.AuditSessionStopped
	if final == models.SessionTimeout {
		action = models.AuditSessionTimeout
	}
	o.audit(ctx, action, actor, "session", session.ID, machine.Name)
	if o.onSessionEnded != nil {
		o.onSessionEnded(session)
	}
	if o.metrics != nil {
		o.metrics.RecordSessionEnd(session.Status, now.Sub(session.StartedAt))
		o.refreshActiveSessions(ctx)
	}
	log.Info("session stopped", logger.Status(session.Status))
	return result, nil
}

// ServeBootScript regenerates the boot script for a machine's live session.
// Returns models.ErrSessionNotFound when the machine has no live session so
// the HTTP layer can answer 404 and the client can retry cleanly.
func (o *Orchestrator) ServeBootScript(ctx context.Context, machineID uint) (string, error) {
	machine, err := o.store.GetMachine(ctx, machineID)
	if err != nil {
		return "", err
	}
	if _, err := o.store.GetLiveSessionForMachine(ctx, machineID); err != nil {
		return "", err
	}
	target, err := o.store.GetTargetForMachine(ctx, machineID)
	if err != nil {
		return "", err
	}
	image, err := o.store.GetImage(ctx, target.ImageID)
	if err != nil {
		return "", err
	}
	if o.metrics != nil {
		o.metrics.RecordBootScriptServed()
	}
	return ipxe.Generate(machine, target, image, o.serverConfig()), nil
}

// ServeBootScriptByMAC is the boot-time path: PXE clients know their MAC,
// not their database id.
func (o *Orchestrator) ServeBootScriptByMAC(ctx context.Context, mac string) (string, error) {
	machine, err := o.store.GetMachineByMAC(ctx, mac)
	if err != nil {
		return "", err
	}
	return o.ServeBootScript(ctx, machine.ID)
}

// GetSession returns a session by public identifier.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return o.store.GetSessionBySessionID(ctx, sessionID)
}

// ListSessions returns sessions matching the filter.
func (o *Orchestrator) ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.Session, error) {
	return o.store.ListSessions(ctx, filter)
}

// GetStats summarizes session history.
func (o *Orchestrator) GetStats(ctx context.Context) (*store.SessionStats, error) {
	return o.store.GetSessionStats(ctx)
}

// GetActiveSessionForMachine returns the machine's live session.
func (o *Orchestrator) GetActiveSessionForMachine(ctx context.Context, machineID uint) (*models.Session, error) {
	return o.store.GetLiveSessionForMachine(ctx, machineID)
}

// RecordClientActivity handles a keep-alive report from a booted client:
// marks the machine online and refreshes its live session, if any.
func (o *Orchestrator) RecordClientActivity(ctx context.Context, mac string, booted bool) error {
	machine, err := o.store.GetMachineByMAC(ctx, mac)
	if err != nil {
		return err
	}
	if err := o.store.TouchMachine(ctx, machine.ID, booted); err != nil {
		return err
	}
	session, err := o.store.GetLiveSessionForMachine(ctx, machine.ID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	now := time.Now()
	if booted && session.BootAt == nil {
		session.BootAt = &now
		session.ReadyAt = &now
		if err := o.store.UpdateSession(ctx, session); err != nil {
			return err
		}
	}
	if err := o.store.TouchSessionActivity(ctx, session.ID, now); err != nil &&
		!errors.Is(err, models.ErrSessionNotActive) {
		return err
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, action, actor, resource string, recordID uint, detail string) {
	entry := &models.AuditLog{
		Action:   action,
		Actor:    actor,
		Resource: resource,
		RecordID: recordID,
		Detail:   detail,
	}
	if lc := logger.FromContext(ctx); lc != nil {
		entry.TraceID = lc.TraceID
		entry.ClientIP = lc.ClientIP
	}
	if err := o.store.AppendAuditLog(ctx, entry); err != nil {
		logger.WarnCtx(ctx, "appending audit log failed", logger.Err(err))
	}
}
