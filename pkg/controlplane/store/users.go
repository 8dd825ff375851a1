package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// maxFailedLogins is the threshold after which an account is locked.
const maxFailedLogins = 5

// loginLockDuration is how long an account stays locked after too many
// failed attempts.
const loginLockDuration = 15 * time.Minute

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, user, models.ErrDuplicateUser)
}

func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}

	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Username", "Role", "Active", "LockedUntil").
		Updates(user).Error
}

// DeleteUser removes a user by username. The built-in admin user cannot be
// deleted.
func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	if username == models.AdminUsername {
		return fmt.Errorf("the %s user cannot be deleted", models.AdminUsername)
	}
	return deleteByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Update("password_hash", passwordHash)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]any{
			"last_login":    timestamp,
			"failed_logins": 0,
			"locked_until":  nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// RecordLoginFailure increments the failure counter and locks the account
// once the threshold is reached.
func (s *GORMStore) RecordLoginFailure(ctx context.Context, username string) error {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		return err
	}

	updates := map[string]any{"failed_logins": user.FailedLogins + 1}
	if user.FailedLogins+1 >= maxFailedLogins {
		updates["locked_until"] = time.Now().Add(loginLockDuration)
		updates["failed_logins"] = 0
	}

	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(updates).Error
}

func (s *GORMStore) ValidateCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.Active {
		return nil, models.ErrUserDisabled
	}
	if user.IsLocked(time.Now()) {
		return nil, models.ErrUserLocked
	}

	if !models.CheckPassword(user.PasswordHash, password) {
		if err := s.RecordLoginFailure(ctx, username); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidCredentials
	}

	return user, nil
}

// ============================================
// ADMIN INITIALIZATION
// ============================================

// EnsureAdminUser creates the bootstrap admin account if it does not exist.
// Returns the generated password the first time, empty string otherwise.
func (s *GORMStore) EnsureAdminUser(ctx context.Context) (string, error) {
	_, err := s.GetUser(ctx, models.AdminUsername)
	if err == nil {
		return "", nil // Admin already exists
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return "", err
	}

	passwordFromEnv := os.Getenv(models.EnvAdminInitialPassword) != ""

	password, err := models.GetOrGenerateAdminPassword()
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}

	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	admin := models.DefaultAdminUser(passwordHash)
	if err := s.CreateUser(ctx, admin); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}

	if passwordFromEnv {
		return "", nil
	}
	return password, nil
}
