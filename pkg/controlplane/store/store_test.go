//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

func createTestMachine(t *testing.T, store *GORMStore, name, mac string) *models.Machine {
	t.Helper()
	m := &models.Machine{
		Name:     name,
		MAC:      mac,
		IP:       "192.168.1.50",
		BootMode: string(models.BootModeUEFI),
		Status:   string(models.MachineActive),
	}
	if err := store.CreateMachine(context.Background(), m); err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	return m
}

func createTestImage(t *testing.T, store *GORMStore, name string, status models.ImageStatus) *models.Image {
	t.Helper()
	img := &models.Image{
		Name:      name,
		Filename:  name + ".vhdx",
		FilePath:  "/var/lib/ggboot/images/" + name + ".vhdx",
		Format:    string(models.FormatVHDX),
		ImageType: string(models.ImageTypeSystem),
		SizeBytes: 1 << 30,
		Status:    string(status),
	}
	if err := store.CreateImage(context.Background(), img); err != nil {
		t.Fatalf("failed to create image: %v", err)
	}
	return img
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{
			Type: "invalid",
		}
		_, err := New(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory store", func(t *testing.T) {
		store := createTestStore(t)
		defer store.Close()

		if err := store.Ping(context.Background()); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestUserOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	hash, err := models.HashPassword("swordfish")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	t.Run("create user", func(t *testing.T) {
		user := &models.User{
			Username:     "operator1",
			PasswordHash: hash,
			Role:         string(models.RoleOperator),
			Active:       true,
		}
		if err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		if user.ID == 0 {
			t.Error("expected non-zero user ID")
		}
	})

	t.Run("duplicate user fails", func(t *testing.T) {
		user := &models.User{
			Username:     "operator1",
			PasswordHash: hash,
			Role:         string(models.RoleOperator),
		}
		err := store.CreateUser(ctx, user)
		if !errors.Is(err, models.ErrDuplicateUser) {
			t.Errorf("expected ErrDuplicateUser, got %v", err)
		}
	})

	t.Run("get user not found", func(t *testing.T) {
		_, err := store.GetUser(ctx, "nonexistent")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("validate credentials", func(t *testing.T) {
		user, err := store.ValidateCredentials(ctx, "operator1", "swordfish")
		if err != nil {
			t.Fatalf("expected valid credentials: %v", err)
		}
		if user.Username != "operator1" {
			t.Errorf("expected operator1, got %q", user.Username)
		}

		_, err = store.ValidateCredentials(ctx, "operator1", "wrong")
		if !errors.Is(err, models.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("lockout after repeated failures", func(t *testing.T) {
		for i := 0; i < maxFailedLogins; i++ {
			_, _ = store.ValidateCredentials(ctx, "operator1", "wrong")
		}
		_, err := store.ValidateCredentials(ctx, "operator1", "swordfish")
		if !errors.Is(err, models.ErrUserLocked) {
			t.Errorf("expected ErrUserLocked, got %v", err)
		}
	})

	t.Run("successful login clears lockout", func(t *testing.T) {
		user, _ := store.GetUser(ctx, "operator1")
		past := time.Now().Add(-time.Minute)
		user.LockedUntil = &past
		if err := store.UpdateUser(ctx, user); err != nil {
			t.Fatalf("failed to clear lockout: %v", err)
		}

		if _, err := store.ValidateCredentials(ctx, "operator1", "swordfish"); err != nil {
			t.Fatalf("expected valid credentials after lockout expiry: %v", err)
		}
		fresh, _ := store.GetUser(ctx, "operator1")
		if fresh.FailedLogins != 0 {
			t.Errorf("expected failure counter reset, got %d", fresh.FailedLogins)
		}
	})

	t.Run("admin cannot be deleted", func(t *testing.T) {
		if _, err := store.EnsureAdminUser(ctx); err != nil {
			t.Fatalf("failed to ensure admin: %v", err)
		}
		if err := store.DeleteUser(ctx, models.AdminUsername); err == nil {
			t.Error("expected error deleting admin user")
		}
	})
}

func TestImageOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	img := createTestImage(t, store, "win11-gold", models.ImageProcessing)

	t.Run("duplicate name fails", func(t *testing.T) {
		dup := &models.Image{
			Name:     "win11-gold",
			Filename: "other.vhdx",
			FilePath: "/tmp/other.vhdx",
			Format:   string(models.FormatVHDX),
		}
		err := store.CreateImage(ctx, dup)
		if !errors.Is(err, models.ErrDuplicateImage) {
			t.Errorf("expected ErrDuplicateImage, got %v", err)
		}
	})

	t.Run("claim for conversion", func(t *testing.T) {
		claimed, err := store.ClaimImagesForConversion(ctx, 10)
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if len(claimed) != 1 || claimed[0].ID != img.ID {
			t.Fatalf("expected to claim image %d, got %+v", img.ID, claimed)
		}
		if claimed[0].Status != string(models.ImageConverting) {
			t.Errorf("expected converting, got %s", claimed[0].Status)
		}

		again, err := store.ClaimImagesForConversion(ctx, 10)
		if err != nil {
			t.Fatalf("second claim failed: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("expected nothing left to claim, got %d", len(again))
		}
	})

	t.Run("illegal transition rejected", func(t *testing.T) {
		err := store.TransitionImageStatus(ctx, img.ID, models.ImageConverting, models.ImageUploading)
		if err == nil {
			t.Error("expected error for illegal transition")
		}
	})

	t.Run("recover stale conversions", func(t *testing.T) {
		n, err := store.RecoverStaleConversions(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("recover failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 recovered, got %d", n)
		}
		fresh, _ := store.GetImage(ctx, img.ID)
		if fresh.Status != string(models.ImageProcessing) {
			t.Errorf("expected processing after recovery, got %s", fresh.Status)
		}
	})

	t.Run("delete refused while referenced", func(t *testing.T) {
		if err := store.TransitionImageStatus(ctx, img.ID, models.ImageProcessing, models.ImageReady); err != nil {
			t.Fatalf("failed to mark ready: %v", err)
		}
		machine := createTestMachine(t, store, "pc-01", "aa:bb:cc:dd:ee:01")
		target := &models.Target{
			TargetID:  models.TargetIDForMachine(machine.ID),
			IQN:       models.IQNFor("iqn.2025.ggnet", models.TargetIDForMachine(machine.ID)),
			MachineID: machine.ID,
			ImageID:   img.ID,
			ImagePath: img.FilePath,
			Status:    string(models.TargetActive),
		}
		if err := store.CreateTarget(ctx, target); err != nil {
			t.Fatalf("failed to create target: %v", err)
		}

		err := store.SoftDeleteImage(ctx, img.ID)
		if !errors.Is(err, models.ErrImageInUse) {
			t.Errorf("expected ErrImageInUse, got %v", err)
		}

		if err := store.DeleteTarget(ctx, target.ID); err != nil {
			t.Fatalf("failed to delete target: %v", err)
		}
		if err := store.SoftDeleteImage(ctx, img.ID); err != nil {
			t.Errorf("expected delete to succeed, got %v", err)
		}
	})

	t.Run("deleted image hidden from name lookup", func(t *testing.T) {
		_, err := store.GetImageByName(ctx, "win11-gold")
		if !errors.Is(err, models.ErrImageNotFound) {
			t.Errorf("expected ErrImageNotFound, got %v", err)
		}
	})

	t.Run("name reusable after soft delete", func(t *testing.T) {
		reuse := &models.Image{
			Name:     "win11-gold",
			Filename: "reuse.vhdx",
			FilePath: "/tmp/reuse.vhdx",
			Format:   string(models.FormatVHDX),
		}
		if err := store.CreateImage(ctx, reuse); err != nil {
			t.Errorf("expected create to succeed after delete, got %v", err)
		}
	})
}

func TestCreateImageConcurrentDuplicates(t *testing.T) {
	// File-backed so every pool connection sees the same database.
	store, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	const workers = 8
	start := make(chan struct{})
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = store.CreateImage(ctx, &models.Image{
				Name:     "win11-dup",
				Filename: fmt.Sprintf("win11-dup-%d.vhdx", i),
				FilePath: fmt.Sprintf("/tmp/win11-dup-%d.vhdx", i),
				Format:   string(models.FormatVHDX),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var created, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, models.ErrDuplicateImage):
			dups++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 || dups != workers-1 {
		t.Errorf("expected 1 create and %d duplicates, got %d and %d", workers-1, created, dups)
	}

	var rows int64
	if err := store.DB().Model(&models.Image{}).Where("name = ?", "win11-dup").Count(&rows).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected exactly 1 row, got %d", rows)
	}
}

func TestMachineOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	machine := createTestMachine(t, store, "pc-07", "aa:bb:cc:dd:ee:07")

	t.Run("lookup by any MAC encoding", func(t *testing.T) {
		for _, mac := range []string{"AA-BB-CC-DD-EE-07", "aabbccddee07", "aa:bb:cc:dd:ee:07"} {
			m, err := store.GetMachineByMAC(ctx, mac)
			if err != nil {
				t.Fatalf("lookup %q failed: %v", mac, err)
			}
			if m.ID != machine.ID {
				t.Errorf("lookup %q returned machine %d", mac, m.ID)
			}
		}
	})

	t.Run("invalid MAC rejected", func(t *testing.T) {
		_, err := store.GetMachineByMAC(ctx, "not-a-mac")
		if !errors.Is(err, models.ErrInvalidMAC) {
			t.Errorf("expected ErrInvalidMAC, got %v", err)
		}
	})

	t.Run("duplicate MAC fails", func(t *testing.T) {
		dup := &models.Machine{Name: "pc-08", MAC: "aa:bb:cc:dd:ee:07"}
		err := store.CreateMachine(ctx, dup)
		if !errors.Is(err, models.ErrDuplicateMachine) {
			t.Errorf("expected ErrDuplicateMachine, got %v", err)
		}
	})

	t.Run("touch records boot", func(t *testing.T) {
		if err := store.TouchMachine(ctx, machine.ID, true); err != nil {
			t.Fatalf("touch failed: %v", err)
		}
		fresh, _ := store.GetMachine(ctx, machine.ID)
		if !fresh.IsOnline || fresh.LastSeen == nil {
			t.Error("expected machine online with last_seen set")
		}
		if fresh.BootCount != 1 {
			t.Errorf("expected boot_count 1, got %d", fresh.BootCount)
		}
	})

	t.Run("mark offline after silence", func(t *testing.T) {
		n, err := store.MarkMachinesOffline(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("mark offline failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 machine marked offline, got %d", n)
		}
	})
}

func TestTargetOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	machine := createTestMachine(t, store, "pc-11", "aa:bb:cc:dd:ee:11")
	img := createTestImage(t, store, "win11", models.ImageReady)

	target := &models.Target{
		TargetID:  models.TargetIDForMachine(machine.ID),
		IQN:       models.IQNFor("iqn.2025.ggnet", models.TargetIDForMachine(machine.ID)),
		MachineID: machine.ID,
		ImageID:   img.ID,
		ImagePath: img.FilePath,
		Status:    string(models.TargetActive),
	}
	if err := store.CreateTarget(ctx, target); err != nil {
		t.Fatalf("failed to create target: %v", err)
	}

	t.Run("one target per machine", func(t *testing.T) {
		second := &models.Target{
			TargetID:  "machine_999",
			IQN:       "iqn.2025.ggnet:target-machine_999",
			MachineID: machine.ID,
			ImageID:   img.ID,
		}
		err := store.CreateTarget(ctx, second)
		if !errors.Is(err, models.ErrMachineHasTarget) {
			t.Errorf("expected ErrMachineHasTarget, got %v", err)
		}
	})

	t.Run("lookup by target id", func(t *testing.T) {
		got, err := store.GetTargetByTargetID(ctx, target.TargetID)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.ID != target.ID {
			t.Errorf("expected target %d, got %d", target.ID, got.ID)
		}
	})

	t.Run("count references", func(t *testing.T) {
		n, err := store.CountTargetsForImage(ctx, img.ID)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 reference, got %d", n)
		}
	})
}

func TestSessionOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	machine := createTestMachine(t, store, "pc-21", "aa:bb:cc:dd:ee:21")
	img := createTestImage(t, store, "win11", models.ImageReady)

	sess := &models.Session{
		SessionID: "sess-0001",
		Type:      string(models.SessionDisklessBoot),
		Status:    string(models.SessionStarting),
		MachineID: machine.ID,
		ImageID:   img.ID,
		StartedAt: time.Now(),
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	t.Run("second live session conflicts", func(t *testing.T) {
		dup := &models.Session{
			SessionID: "sess-0002",
			Status:    string(models.SessionStarting),
			MachineID: machine.ID,
			StartedAt: time.Now(),
		}
		err := store.CreateSession(ctx, dup)
		if !errors.Is(err, models.ErrSessionConflict) {
			t.Errorf("expected ErrSessionConflict, got %v", err)
		}
	})

	t.Run("status CAS has one winner", func(t *testing.T) {
		if err := store.TransitionSessionStatus(ctx, sess.ID, models.SessionStarting, models.SessionActive); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
		err := store.TransitionSessionStatus(ctx, sess.ID, models.SessionStarting, models.SessionActive)
		if !errors.Is(err, models.ErrSessionNotActive) {
			t.Errorf("expected ErrSessionNotActive, got %v", err)
		}
	})

	t.Run("live session lookup", func(t *testing.T) {
		live, err := store.GetLiveSessionForMachine(ctx, machine.ID)
		if err != nil {
			t.Fatalf("live lookup failed: %v", err)
		}
		if live.SessionID != "sess-0001" {
			t.Errorf("expected sess-0001, got %s", live.SessionID)
		}
	})

	t.Run("stale session listing", func(t *testing.T) {
		stale, err := store.ListStaleSessions(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("stale listing failed: %v", err)
		}
		if len(stale) != 1 {
			t.Fatalf("expected 1 stale session, got %d", len(stale))
		}

		if err := store.TouchSessionActivity(ctx, sess.ID, time.Now().Add(2*time.Minute)); err != nil {
			t.Fatalf("touch failed: %v", err)
		}
		stale, err = store.ListStaleSessions(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("stale listing failed: %v", err)
		}
		if len(stale) != 0 {
			t.Errorf("expected no stale sessions after touch, got %d", len(stale))
		}
	})

	t.Run("ending session frees the machine", func(t *testing.T) {
		now := time.Now()
		sess.EndedAt = &now
		sess.Status = string(models.SessionStopped)
		sess.ComputeDurations()
		if err := store.UpdateSession(ctx, sess); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		next := &models.Session{
			SessionID: "sess-0003",
			Status:    string(models.SessionStarting),
			MachineID: machine.ID,
			StartedAt: time.Now(),
		}
		if err := store.CreateSession(ctx, next); err != nil {
			t.Fatalf("expected new session after stop, got %v", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.GetSessionStats(ctx)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.Total != 2 {
			t.Errorf("expected 2 total sessions, got %d", stats.Total)
		}
		if stats.Live != 1 {
			t.Errorf("expected 1 live session, got %d", stats.Live)
		}
		if stats.Stopped != 1 {
			t.Errorf("expected 1 stopped session, got %d", stats.Stopped)
		}
	})
}

func TestAuditOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for _, action := range []string{models.AuditSessionStarted, models.AuditSessionStopped} {
		entry := &models.AuditLog{
			Action:   action,
			Actor:    "admin",
			Resource: "session",
			RecordID: 1,
		}
		if err := store.AppendAuditLog(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := store.ListAuditLogs(ctx, AuditFilter{Action: models.AuditSessionStopped})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != models.AuditSessionStopped {
		t.Errorf("unexpected action %q", entries[0].Action)
	}
}
