package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// ImageFilter narrows ListImages results. Zero-valued fields are ignored.
type ImageFilter struct {
	Status    string
	ImageType string
	// IncludeDeleted includes soft-deleted rows, which are hidden by default.
	IncludeDeleted bool
}

func (s *GORMStore) GetImage(ctx context.Context, id uint) (*models.Image, error) {
	return getByField[models.Image](s.db, ctx, "id", id, models.ErrImageNotFound)
}

// GetImageByName returns the non-deleted image with the given display name.
func (s *GORMStore) GetImageByName(ctx context.Context, name string) (*models.Image, error) {
	var img models.Image
	err := s.db.WithContext(ctx).
		Where("name = ? AND status <> ?", name, string(models.ImageDeleted)).
		First(&img).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrImageNotFound)
	}
	return &img, nil
}

func (s *GORMStore) ListImages(ctx context.Context, filter ImageFilter) ([]*models.Image, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	} else if !filter.IncludeDeleted {
		q = q.Where("status <> ?", string(models.ImageDeleted))
	}
	if filter.ImageType != "" {
		q = q.Where("image_type = ?", filter.ImageType)
	}

	var images []*models.Image
	if err := q.Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func (s *GORMStore) CreateImage(ctx context.Context, img *models.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	// Name uniqueness applies among non-deleted rows only; the partial
	// unique index idx_images_name_live enforces it under concurrency.
	return create(s.db, ctx, img, models.ErrDuplicateImage)
}

func (s *GORMStore) UpdateImage(ctx context.Context, img *models.Image) error {
	result := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ?", img.ID).
		Select("Name", "Filename", "FilePath", "Format", "ImageType", "SizeBytes",
			"VirtualSizeBytes", "ChecksumMD5", "ChecksumSHA256", "Status",
			"ErrorMessage", "ProcessingLog").
		Updates(img)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrImageNotFound
	}
	return nil
}

// TransitionImageStatus moves an image from one status to another with a
// compare-and-swap, enforcing the lifecycle DAG. Returns ErrImageNotFound if
// the image is no longer in the expected status.
func (s *GORMStore) TransitionImageStatus(ctx context.Context, id uint, from, to models.ImageStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal image status transition %s -> %s", from, to)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrImageNotFound
	}
	return nil
}

// ClaimImagesForConversion atomically claims up to limit images in
// processing status, moving them to converting. Row-level CAS guarantees no
// image is claimed by two workers.
func (s *GORMStore) ClaimImagesForConversion(ctx context.Context, limit int) ([]*models.Image, error) {
	var claimed []*models.Image

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []*models.Image
		if err := tx.
			Where("status = ?", string(models.ImageProcessing)).
			Order("created_at").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return err
		}

		for _, img := range candidates {
			result := tx.Model(&models.Image{}).
				Where("id = ? AND status = ?", img.ID, string(models.ImageProcessing)).
				Update("status", string(models.ImageConverting))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				img.Status = string(models.ImageConverting)
				claimed = append(claimed, img)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecoverStaleConversions returns images stuck in converting whose claimer
// stopped updating them before the cutoff back to processing. Used on worker
// startup after a crash.
func (s *GORMStore) RecoverStaleConversions(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("status = ? AND updated_at < ?", string(models.ImageConverting), cutoff).
		Update("status", string(models.ImageProcessing))
	return result.RowsAffected, result.Error
}

// SoftDeleteImage marks an image deleted. Refused while any target still
// references it.
func (s *GORMStore) SoftDeleteImage(ctx context.Context, id uint) error {
	img, err := s.GetImage(ctx, id)
	if err != nil {
		return err
	}

	var refs int64
	if err := s.db.WithContext(ctx).
		Model(&models.Target{}).
		Where("image_id = ?", id).
		Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return models.ErrImageInUse
	}

	if !img.GetStatus().CanTransitionTo(models.ImageDeleted) {
		return fmt.Errorf("image %d cannot be deleted from status %s", id, img.Status)
	}

	return s.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ?", id).
		Update("status", string(models.ImageDeleted)).Error
}
