package store

import (
	"context"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// AuditFilter narrows ListAuditLogs results. Zero-valued fields are ignored.
type AuditFilter struct {
	Action   string
	Resource string
	RecordID uint
	Limit    int
}

// AppendAuditLog records an audit event. Audit rows are never updated or
// deleted through the store.
func (s *GORMStore) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GORMStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		q = q.Where("resource = ?", filter.Resource)
	}
	if filter.RecordID != 0 {
		q = q.Where("record_id = ?", filter.RecordID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(limit)

	var entries []*models.AuditLog
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
