package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/ggnet/ggboot/pkg/ipxe"
	"github.com/ggnet/ggboot/pkg/tftp"
)

// watchdogActor is the audit actor for reconciler-initiated changes.
const watchdogActor = "watchdog"

// RunWatchdog runs the reconciler until the context is cancelled. Each sweep
// times out sessions whose clients stopped reporting, deletes iSCSI targets
// no session accounts for, and reinstalls boot scripts that went missing
// from the TFTP root.
func (o *Orchestrator) RunWatchdog(ctx context.Context) {
	logger.Info("session watchdog started",
		"interval", o.cfg.WatchdogInterval.String())

	ticker := time.NewTicker(o.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("session watchdog stopped")
			return
		case <-ticker.C:
			o.Reconcile(ctx)
		}
	}
}

// Reconcile runs one watchdog sweep.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	o.timeoutStaleSessions(ctx)
	o.deleteOrphanTargets(ctx)
	o.reinstallMissingScripts(ctx)
}

func (o *Orchestrator) timeoutStaleSessions(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.ActivityTimeout)
	stale, err := o.store.ListStaleSessions(ctx, cutoff)
	if err != nil {
		logger.Error("watchdog: listing stale sessions failed", logger.Err(err))
		return
	}
	for _, sess := range stale {
		logger.Warn("watchdog: session inactive past timeout",
			logger.SessionID(sess.SessionID),
			logger.MachineID(sess.MachineID))
		if _, err := o.stop(ctx, sess.SessionID, watchdogActor, models.SessionTimeout); err != nil {
			logger.Error("watchdog: timing out session failed",
				logger.SessionID(sess.SessionID), logger.Err(err))
		}
	}
}

// deleteOrphanTargets removes live iSCSI targets that have no backing row.
// Targets outside our IQN prefix are left alone.
func (o *Orchestrator) deleteOrphanTargets(ctx context.Context) {
	iqns, err := o.targets.ListTargets(ctx)
	if err != nil {
		logger.Error("watchdog: listing iscsi targets failed", logger.Err(err))
		return
	}
	prefix := o.targets.IQNPrefix() + ":target-"
	for _, iqn := range iqns {
		if !strings.HasPrefix(iqn, prefix) {
			continue
		}
		targetID := strings.TrimPrefix(iqn, prefix)
		if _, err := o.store.GetTargetByTargetID(ctx, targetID); err == nil {
			continue
		} else if !errors.Is(err, models.ErrTargetNotFound) {
			logger.Error("watchdog: looking up target failed",
				logger.TargetID(targetID), logger.Err(err))
			continue
		}
		logger.Warn("watchdog: deleting orphan iscsi target", logger.IQN(iqn))
		if err := o.targets.DeleteTarget(ctx, targetID); err != nil {
			logger.Error("watchdog: deleting orphan target failed",
				logger.TargetID(targetID), logger.Err(err))
		}
	}
}

func (o *Orchestrator) reinstallMissingScripts(ctx context.Context) {
	live, err := o.store.ListSessions(ctx, store.SessionFilter{Live: true})
	if err != nil {
		logger.Error("watchdog: listing live sessions failed", logger.Err(err))
		return
	}
	if len(live) == 0 {
		return
	}
	scripts, err := o.tftp.ListMachineScripts()
	if err != nil {
		logger.Error("watchdog: listing boot scripts failed", logger.Err(err))
		return
	}
	present := make(map[string]struct{}, len(scripts))
	for _, s := range scripts {
		present[s.MAC] = struct{}{}
	}

	for _, sess := range live {
		machine, err := o.store.GetMachine(ctx, sess.MachineID)
		if err != nil {
			logger.Error("watchdog: loading machine failed",
				logger.MachineID(sess.MachineID), logger.Err(err))
			continue
		}
		if _, ok := present[machine.MAC]; ok {
			continue
		}
		target, err := o.store.GetTargetForMachine(ctx, machine.ID)
		if err != nil {
			logger.Error("watchdog: loading target for reinstall failed",
				logger.MachineID(machine.ID), logger.Err(err))
			continue
		}
		image, err := o.store.GetImage(ctx, target.ImageID)
		if err != nil {
			logger.Error("watchdog: loading image for reinstall failed",
				logger.MachineID(machine.ID), logger.Err(err))
			continue
		}
		logger.Warn("watchdog: reinstalling missing boot script",
			logger.MachineID(machine.ID), logger.MAC(machine.MAC))
		script := ipxe.Generate(machine, target, image, o.serverConfig())
		if err := o.tftp.InstallMachineScript(machine, script); err != nil {
			logger.Error("watchdog: reinstalling boot script failed",
				logger.MachineID(machine.ID), logger.Err(err))
		}
	}
}

// Compile-time check that the concrete TFTP manager satisfies the
// orchestrator's interface.
var _ TFTPManager = (*tftp.Manager)(nil)
