package store

import (
	"context"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

func (s *GORMStore) GetTarget(ctx context.Context, id uint) (*models.Target, error) {
	return getByField[models.Target](s.db, ctx, "id", id, models.ErrTargetNotFound)
}

func (s *GORMStore) GetTargetByTargetID(ctx context.Context, targetID string) (*models.Target, error) {
	return getByField[models.Target](s.db, ctx, "target_id", targetID, models.ErrTargetNotFound)
}

// GetTargetForMachine returns the target bound to a machine, if any. A machine
// has at most one target at a time.
func (s *GORMStore) GetTargetForMachine(ctx context.Context, machineID uint) (*models.Target, error) {
	return getByField[models.Target](s.db, ctx, "machine_id", machineID, models.ErrTargetNotFound)
}

func (s *GORMStore) ListTargets(ctx context.Context) ([]*models.Target, error) {
	var targets []*models.Target
	if err := s.db.WithContext(ctx).Order("created_at").Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *GORMStore) CreateTarget(ctx context.Context, t *models.Target) error {
	if _, err := s.GetTargetForMachine(ctx, t.MachineID); err == nil {
		return models.ErrMachineHasTarget
	}
	return create(s.db, ctx, t, models.ErrDuplicateTarget)
}

func (s *GORMStore) UpdateTargetStatus(ctx context.Context, id uint, status models.TargetStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Target{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTargetNotFound
	}
	return nil
}

func (s *GORMStore) DeleteTarget(ctx context.Context, id uint) error {
	return deleteByField[models.Target](s.db, ctx, "id", id, models.ErrTargetNotFound)
}

// CountTargetsForImage reports how many targets currently reference an image.
// Image deletion is refused while this is non-zero.
func (s *GORMStore) CountTargetsForImage(ctx context.Context, imageID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Target{}).
		Where("image_id = ?", imageID).
		Count(&n).Error
	return n, err
}
