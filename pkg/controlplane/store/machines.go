package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// MachineFilter narrows ListMachines results. Zero-valued fields are ignored.
type MachineFilter struct {
	Status   string
	Location string
	Online   *bool
}

func (s *GORMStore) GetMachine(ctx context.Context, id uint) (*models.Machine, error) {
	return getByField[models.Machine](s.db, ctx, "id", id, models.ErrMachineNotFound)
}

// GetMachineByMAC looks up a machine by MAC address in any accepted encoding.
func (s *GORMStore) GetMachineByMAC(ctx context.Context, mac string) (*models.Machine, error) {
	canonical, err := models.CanonicalMAC(mac)
	if err != nil {
		return nil, err
	}
	return getByField[models.Machine](s.db, ctx, "mac", canonical, models.ErrMachineNotFound)
}

func (s *GORMStore) GetMachineByName(ctx context.Context, name string) (*models.Machine, error) {
	return getByField[models.Machine](s.db, ctx, "name", name, models.ErrMachineNotFound)
}

func (s *GORMStore) ListMachines(ctx context.Context, filter MachineFilter) ([]*models.Machine, error) {
	q := s.db.WithContext(ctx).Order("name")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Location != "" {
		q = q.Where("location = ?", filter.Location)
	}
	if filter.Online != nil {
		q = q.Where("is_online = ?", *filter.Online)
	}

	var machines []*models.Machine
	if err := q.Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *GORMStore) CreateMachine(ctx context.Context, m *models.Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, m, models.ErrDuplicateMachine)
}

func (s *GORMStore) UpdateMachine(ctx context.Context, m *models.Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Model(&models.Machine{}).
		Where("id = ?", m.ID).
		Select("Name", "Description", "MAC", "IP", "Hostname", "BootMode",
			"SecureBoot", "Status", "Location", "Row", "Seat", "ExtraConfig").
		Updates(m)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrMachineNotFound
	}
	return nil
}

// TouchMachine records liveness reported by the client and bumps the boot
// counter when the report is a boot event.
func (s *GORMStore) TouchMachine(ctx context.Context, id uint, booted bool) error {
	now := time.Now()
	updates := map[string]any{
		"is_online": true,
		"last_seen": &now,
	}
	if booted {
		updates["boot_count"] = gorm.Expr("boot_count + 1")
	}
	result := s.db.WithContext(ctx).
		Model(&models.Machine{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrMachineNotFound
	}
	return nil
}

func (s *GORMStore) DeleteMachine(ctx context.Context, id uint) error {
	return deleteByField[models.Machine](s.db, ctx, "id", id, models.ErrMachineNotFound)
}

// MarkMachinesOffline flips is_online off for machines not seen since cutoff.
func (s *GORMStore) MarkMachinesOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Machine{}).
		Where("is_online = ? AND (last_seen IS NULL OR last_seen < ?)", true, cutoff).
		Update("is_online", false)
	return result.RowsAffected, result.Error
}
