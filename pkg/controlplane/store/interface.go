// Package store provides the control plane persistence layer.
//
// This package implements the Store interface for managing control plane data
// including users, machines, disk images, iSCSI target records, sessions, and
// the audit log.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (HA-capable)
package store

import (
	"context"
	"time"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// Store provides the control plane persistence interface.
//
// Thread Safety: Implementations must be safe for concurrent use from multiple
// goroutines. Status changes use compare-and-swap updates so that concurrent
// orchestrator and worker paths settle on one winner.
type Store interface {
	// ============================================
	// USER OPERATIONS
	// ============================================

	// GetUser returns a user by username.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	GetUser(ctx context.Context, username string) (*models.User, error)

	// GetUserByID returns a user by ID.
	// Returns models.ErrUserNotFound if no user has this ID.
	GetUserByID(ctx context.Context, id uint) (*models.User, error)

	// ListUsers returns all users.
	ListUsers(ctx context.Context) ([]*models.User, error)

	// CreateUser creates a new user.
	// Returns models.ErrDuplicateUser if a user with the same username exists.
	CreateUser(ctx context.Context, user *models.User) error

	// UpdateUser updates a user's username, role, active flag, and lockout.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdateUser(ctx context.Context, user *models.User) error

	// DeleteUser deletes a user by username. The built-in admin user cannot
	// be deleted.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	DeleteUser(ctx context.Context, username string) error

	// UpdatePassword updates a user's password hash.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdatePassword(ctx context.Context, username, passwordHash string) error

	// UpdateLastLogin records a successful login and clears any failure
	// counter and lockout.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error

	// RecordLoginFailure bumps the failure counter and locks the account
	// when the threshold is reached.
	RecordLoginFailure(ctx context.Context, username string) error

	// ValidateCredentials verifies username/password credentials.
	// Returns models.ErrInvalidCredentials if the credentials are invalid,
	// models.ErrUserDisabled if the account is disabled, and
	// models.ErrUserLocked if the account is locked out.
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)

	// EnsureAdminUser creates the admin user on first start. Returns the
	// generated password when one was created, empty otherwise.
	EnsureAdminUser(ctx context.Context) (string, error)

	// ============================================
	// IMAGE OPERATIONS
	// ============================================

	// GetImage returns an image by ID.
	// Returns models.ErrImageNotFound if the image doesn't exist.
	GetImage(ctx context.Context, id uint) (*models.Image, error)

	// GetImageByName returns the non-deleted image with the given name.
	// Returns models.ErrImageNotFound if no such image exists.
	GetImageByName(ctx context.Context, name string) (*models.Image, error)

	// ListImages returns images matching the filter, newest first.
	ListImages(ctx context.Context, filter ImageFilter) ([]*models.Image, error)

	// CreateImage creates a new image record.
	// Returns models.ErrDuplicateImage if a non-deleted image with the same
	// name exists.
	CreateImage(ctx context.Context, img *models.Image) error

	// UpdateImage updates an image's mutable fields.
	// Returns models.ErrImageNotFound if the image doesn't exist.
	UpdateImage(ctx context.Context, img *models.Image) error

	// TransitionImageStatus moves an image between lifecycle statuses with a
	// compare-and-swap. Rejects transitions the lifecycle doesn't allow.
	TransitionImageStatus(ctx context.Context, id uint, from, to models.ImageStatus) error

	// ClaimImagesForConversion atomically claims up to limit images awaiting
	// conversion, moving them from processing to converting.
	ClaimImagesForConversion(ctx context.Context, limit int) ([]*models.Image, error)

	// RecoverStaleConversions moves images stuck in converting since before
	// the cutoff back to processing. Returns the number recovered.
	RecoverStaleConversions(ctx context.Context, cutoff time.Time) (int64, error)

	// SoftDeleteImage marks an image deleted.
	// Returns models.ErrImageInUse while any target references the image.
	SoftDeleteImage(ctx context.Context, id uint) error

	// ============================================
	// MACHINE OPERATIONS
	// ============================================

	// GetMachine returns a machine by ID.
	// Returns models.ErrMachineNotFound if the machine doesn't exist.
	GetMachine(ctx context.Context, id uint) (*models.Machine, error)

	// GetMachineByMAC returns a machine by MAC address in any accepted
	// encoding.
	// Returns models.ErrInvalidMAC or models.ErrMachineNotFound.
	GetMachineByMAC(ctx context.Context, mac string) (*models.Machine, error)

	// GetMachineByName returns a machine by name.
	// Returns models.ErrMachineNotFound if the machine doesn't exist.
	GetMachineByName(ctx context.Context, name string) (*models.Machine, error)

	// ListMachines returns machines matching the filter, ordered by name.
	ListMachines(ctx context.Context, filter MachineFilter) ([]*models.Machine, error)

	// CreateMachine creates a new machine record.
	// Returns models.ErrDuplicateMachine if the name or MAC is taken.
	CreateMachine(ctx context.Context, m *models.Machine) error

	// UpdateMachine updates a machine's configuration.
	// Returns models.ErrMachineNotFound if the machine doesn't exist.
	UpdateMachine(ctx context.Context, m *models.Machine) error

	// TouchMachine records client liveness, optionally counting a boot.
	TouchMachine(ctx context.Context, id uint, booted bool) error

	// DeleteMachine deletes a machine by ID.
	// Returns models.ErrMachineNotFound if the machine doesn't exist.
	DeleteMachine(ctx context.Context, id uint) error

	// MarkMachinesOffline flips is_online off for machines silent since the
	// cutoff. Returns the number of machines updated.
	MarkMachinesOffline(ctx context.Context, cutoff time.Time) (int64, error)

	// ============================================
	// TARGET OPERATIONS
	// ============================================

	// GetTarget returns a target by ID.
	// Returns models.ErrTargetNotFound if the target doesn't exist.
	GetTarget(ctx context.Context, id uint) (*models.Target, error)

	// GetTargetByTargetID returns a target by its daemon-side identifier.
	// Returns models.ErrTargetNotFound if the target doesn't exist.
	GetTargetByTargetID(ctx context.Context, targetID string) (*models.Target, error)

	// GetTargetForMachine returns the target bound to a machine.
	// Returns models.ErrTargetNotFound if the machine has no target.
	GetTargetForMachine(ctx context.Context, machineID uint) (*models.Target, error)

	// ListTargets returns all target records.
	ListTargets(ctx context.Context) ([]*models.Target, error)

	// CreateTarget creates a new target record.
	// Returns models.ErrMachineHasTarget if the machine already has one and
	// models.ErrDuplicateTarget on identifier collision.
	CreateTarget(ctx context.Context, t *models.Target) error

	// UpdateTargetStatus updates a target's status.
	// Returns models.ErrTargetNotFound if the target doesn't exist.
	UpdateTargetStatus(ctx context.Context, id uint, status models.TargetStatus) error

	// DeleteTarget deletes a target record by ID.
	// Returns models.ErrTargetNotFound if the target doesn't exist.
	DeleteTarget(ctx context.Context, id uint) error

	// CountTargetsForImage reports how many targets reference an image.
	CountTargetsForImage(ctx context.Context, imageID uint) (int64, error)

	// ============================================
	// SESSION OPERATIONS
	// ============================================

	// GetSession returns a session by ID.
	// Returns models.ErrSessionNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id uint) (*models.Session, error)

	// GetSessionBySessionID returns a session by its public identifier.
	// Returns models.ErrSessionNotFound if the session doesn't exist.
	GetSessionBySessionID(ctx context.Context, sessionID string) (*models.Session, error)

	// GetLiveSessionForMachine returns the machine's starting or active
	// session.
	// Returns models.ErrSessionNotFound if the machine has no live session.
	GetLiveSessionForMachine(ctx context.Context, machineID uint) (*models.Session, error)

	// ListSessions returns sessions matching the filter, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error)

	// CreateSession inserts a new session.
	// Returns models.ErrSessionConflict if the machine already has a live
	// session.
	CreateSession(ctx context.Context, sess *models.Session) error

	// UpdateSession updates a session's mutable fields.
	// Returns models.ErrSessionNotFound if the session doesn't exist.
	UpdateSession(ctx context.Context, sess *models.Session) error

	// TransitionSessionStatus moves a session between statuses with a
	// compare-and-swap.
	// Returns models.ErrSessionNotActive if the session left the expected
	// status.
	TransitionSessionStatus(ctx context.Context, id uint, from, to models.SessionStatus) error

	// TouchSessionActivity bumps last_activity on a live session.
	// Returns models.ErrSessionNotActive if the session is no longer live.
	TouchSessionActivity(ctx context.Context, id uint, at time.Time) error

	// ListStaleSessions returns live sessions with no activity since the
	// cutoff.
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*models.Session, error)

	// GetSessionStats summarizes session history.
	GetSessionStats(ctx context.Context) (*SessionStats, error)

	// ============================================
	// AUDIT OPERATIONS
	// ============================================

	// AppendAuditLog records an audit event.
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error

	// ListAuditLogs returns audit entries matching the filter, newest first.
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)

	// ============================================
	// LIFECYCLE
	// ============================================

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
