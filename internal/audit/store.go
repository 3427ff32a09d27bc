package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/arencloud/s3keeper/internal/models"
	"gorm.io/gorm"
)

// Filter is the storage-level selection. At most one of Action or the range is set.
type Filter struct {
	Action string
	From   time.Time
	To     time.Time
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	Find(ctx context.Context, user string, f Filter, offset, limit int) ([]models.AuditEntry, int64, error)
	CountByStatus(ctx context.Context, user string) (map[string]int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) Insert(ctx context.Context, e *models.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *gormStore) Find(ctx context.Context, user string, f Filter, offset, limit int) ([]models.AuditEntry, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AuditEntry{}).Where("user_id = ?", user)
	switch {
	case f.Action != "":
		q = q.Where("action = ?", f.Action)
	case !f.From.IsZero() && !f.To.IsZero():
		q = q.Where("timestamp BETWEEN ? AND ?", f.From.UTC(), f.To.UTC())
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	var out []models.AuditEntry
	if err := q.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	return out, total, nil
}

func (s *gormStore) CountByStatus(ctx context.Context, user string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.AuditEntry{}).
		Select("status, count(*) AS n").
		Where("user_id = ?", user).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count audit entries by status: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func (s *gormStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.AuditEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge audit entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
