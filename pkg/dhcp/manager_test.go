package dhcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggnet/ggboot/internal/execx"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// fakeRunner records invocations and scripts responses per tool.
type fakeRunner struct {
	calls        []string
	validateErr  error
	reloadErr    error
	serviceUp    bool
	validateRuns int
	reloadRuns   int
	onValidate   func()
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) (*execx.Result, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	switch {
	case name == "dhcpd":
		f.validateRuns++
		if f.onValidate != nil {
			f.onValidate()
		}
		if f.validateErr != nil {
			return &execx.Result{Stderr: "bad config", ExitCode: 1}, f.validateErr
		}
		return &execx.Result{}, nil
	case name == "systemctl" && args[0] == "reload":
		f.reloadRuns++
		if f.reloadErr != nil {
			return &execx.Result{ExitCode: 1}, f.reloadErr
		}
		return &execx.Result{}, nil
	case name == "systemctl" && args[0] == "is-active":
		if !f.serviceUp {
			return &execx.Result{ExitCode: 3}, fmt.Errorf("inactive")
		}
		return &execx.Result{}, nil
	}
	return &execx.Result{}, nil
}

func testMachine() *models.Machine {
	return &models.Machine{
		ID:   7,
		Name: "PC 07",
		MAC:  "00:11:22:33:44:55",
		IP:   "192.168.1.107",
	}
}

func newTestManager(t *testing.T, runner *fakeRunner) *Manager {
	t.Helper()
	cfg := Config{
		ConfigPath: filepath.Join(t.TempDir(), "ggboot-machines.conf"),
		NextServer: "192.168.1.1",
	}
	cfg.ApplyDefaults()
	m, err := NewManager(cfg, runner.run)
	require.NoError(t, err)
	return m
}

func TestAddMachine(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	require.NoError(t, m.AddMachine(context.Background(), testMachine()))

	data, err := os.ReadFile(m.cfg.ConfigPath)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, FenceMarker))
	assert.Contains(t, content, "host ggboot-pc-07 {")
	assert.Contains(t, content, "hardware ethernet 00:11:22:33:44:55;")
	assert.Contains(t, content, "fixed-address 192.168.1.107;")
	assert.Contains(t, content, "next-server 192.168.1.1;")
	assert.Contains(t, content, `filename "machines/00-11-22-33-44-55.ipxe";`)

	assert.Equal(t, 1, runner.validateRuns)
	assert.Equal(t, 1, runner.reloadRuns)
}

func TestAddMachineReplacesExistingBlock(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	machine := testMachine()

	require.NoError(t, m.AddMachine(context.Background(), machine))

	machine.IP = "192.168.1.200"
	require.NoError(t, m.AddMachine(context.Background(), machine))

	data, _ := os.ReadFile(m.cfg.ConfigPath)
	content := string(data)
	assert.Equal(t, 1, strings.Count(content, "host ggboot-pc-07 {"))
	assert.Contains(t, content, "fixed-address 192.168.1.200;")
	assert.NotContains(t, content, "192.168.1.107")
}

func TestAddMachineRollsBackOnValidationFailure(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	require.NoError(t, m.AddMachine(context.Background(), testMachine()))
	before, _ := os.ReadFile(m.cfg.ConfigPath)

	runner.validateErr = fmt.Errorf("dhcpd exited with code 1")
	other := &models.Machine{ID: 8, Name: "pc-08", MAC: "00:11:22:33:44:66"}
	err := m.AddMachine(context.Background(), other)

	var dhcpErr *Error
	require.ErrorAs(t, err, &dhcpErr)
	assert.Equal(t, "validate", dhcpErr.Stage)
	assert.Equal(t, "bad config", dhcpErr.Stderr)

	after, _ := os.ReadFile(m.cfg.ConfigPath)
	assert.Equal(t, string(before), string(after), "config must be restored")
	assert.Equal(t, 1, runner.reloadRuns, "no reload after rejected edit")
}

func TestRemoveMachine(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	machine := testMachine()

	require.NoError(t, m.AddMachine(context.Background(), machine))
	require.NoError(t, m.RemoveMachine(context.Background(), machine))

	data, _ := os.ReadFile(m.cfg.ConfigPath)
	assert.NotContains(t, string(data), "host ggboot-pc-07")
	assert.Contains(t, string(data), FenceMarker)
}

func TestRemoveMissingMachineIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	require.NoError(t, m.RemoveMachine(context.Background(), testMachine()))
	assert.Zero(t, runner.reloadRuns, "no reload when nothing changed")
}

func TestEditNeverExposesPartialFile(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	// At the point the daemon dry-runs the file, the complete new content
	// must already be in place; the edit is a rename, never a truncate.
	var seenDuringValidate string
	runner.onValidate = func() {
		data, err := os.ReadFile(m.cfg.ConfigPath)
		require.NoError(t, err)
		seenDuringValidate = string(data)
	}

	require.NoError(t, m.AddMachine(context.Background(), testMachine()))

	final, err := os.ReadFile(m.cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, string(final), seenDuringValidate)
	assert.Contains(t, seenDuringValidate, "host ggboot-pc-07 {")

	entries, err := os.ReadDir(filepath.Dir(m.cfg.ConfigPath))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, filepath.Base(m.cfg.ConfigPath), entries[0].Name())
}

func TestReadFailureReportsReadStage(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	require.NoError(t, os.Remove(m.cfg.ConfigPath))

	err := m.RemoveMachine(context.Background(), testMachine())
	var dhcpErr *Error
	require.ErrorAs(t, err, &dhcpErr)
	assert.Equal(t, "read", dhcpErr.Stage)
}

func TestGetStatus(t *testing.T) {
	runner := &fakeRunner{serviceUp: true}
	m := newTestManager(t, runner)

	require.NoError(t, m.AddMachine(context.Background(), testMachine()))

	status, err := m.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.ServiceRunning)
	assert.True(t, status.ConfigValid)
	assert.Equal(t, 1, status.HostCount)
}
