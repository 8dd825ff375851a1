package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// SessionFilter narrows ListSessions results. Zero-valued fields are ignored.
type SessionFilter struct {
	Status    string
	MachineID uint
	Live      bool
	Limit     int
}

func (s *GORMStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	return getByField[models.Session](s.db, ctx, "id", id, models.ErrSessionNotFound)
}

func (s *GORMStore) GetSessionBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	return getByField[models.Session](s.db, ctx, "session_id", sessionID, models.ErrSessionNotFound)
}

// GetLiveSessionForMachine returns the machine's session in starting or
// active status, if one exists.
func (s *GORMStore) GetLiveSessionForMachine(ctx context.Context, machineID uint) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND status IN ?", machineID, models.LiveSessionStatuses).
		First(&sess).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrSessionNotFound)
	}
	return &sess, nil
}

func (s *GORMStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Live {
		q = q.Where("status IN ?", models.LiveSessionStatuses)
	}
	if filter.MachineID != 0 {
		q = q.Where("machine_id = ?", filter.MachineID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var sessions []*models.Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession inserts a new session row. The partial unique index on
// (machine_id) over live statuses turns a concurrent double start into a
// unique violation, surfaced as ErrSessionConflict.
func (s *GORMStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, sess, models.ErrSessionConflict)
}

func (s *GORMStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sess.ID).
		Select("Status", "TargetID", "ImageID", "ServerIP", "EndedAt", "BootAt",
			"ReadyAt", "LastActivity", "BootDurationSec", "TotalDurationSec",
			"RetryCount", "ErrorMessage", "Description").
		Updates(sess)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// TransitionSessionStatus moves a session between statuses with a
// compare-and-swap so concurrent stop paths settle on one winner.
func (s *GORMStore) TransitionSessionStatus(ctx context.Context, id uint, from, to models.SessionStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotActive
	}
	return nil
}

// TouchSessionActivity bumps last_activity if the session is still live.
func (s *GORMStore) TouchSessionActivity(ctx context.Context, id uint, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status IN ?", id, models.LiveSessionStatuses).
		Update("last_activity", &at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotActive
	}
	return nil
}

// ListStaleSessions returns live sessions with no recorded activity since
// the cutoff. The watchdog reaps these.
func (s *GORMStore) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	var sessions []*models.Session
	err := s.db.WithContext(ctx).
		Where("status IN ? AND (last_activity IS NULL AND started_at < ? OR last_activity < ?)",
			models.LiveSessionStatuses, cutoff, cutoff).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionStats summarizes session history for the stats endpoint.
type SessionStats struct {
	Total          int64   `json:"total"`
	Live           int64   `json:"live"`
	Stopped        int64   `json:"stopped"`
	Failed         int64   `json:"failed"`
	AvgBootSec     float64 `json:"avg_boot_sec"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

func (s *GORMStore) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	var stats SessionStats
	sessions := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Session{})
	}

	if err := sessions().Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := sessions().Where("status IN ?", models.LiveSessionStatuses).
		Count(&stats.Live).Error; err != nil {
		return nil, err
	}
	if err := sessions().Where("status = ?", string(models.SessionStopped)).
		Count(&stats.Stopped).Error; err != nil {
		return nil, err
	}
	if err := sessions().Where("status IN ?", []string{string(models.SessionError), string(models.SessionTimeout)}).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	row := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("boot_duration_sec > 0").
		Select("COALESCE(AVG(boot_duration_sec), 0)").
		Row()
	if err := row.Scan(&stats.AvgBootSec); err != nil {
		return nil, err
	}
	row = s.db.WithContext(ctx).Model(&models.Session{}).
		Where("total_duration_sec > 0").
		Select("COALESCE(AVG(total_duration_sec), 0)").
		Row()
	if err := row.Scan(&stats.AvgDurationSec); err != nil {
		return nil, err
	}
	return &stats, nil
}
