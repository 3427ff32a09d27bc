package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/models"
	"gorm.io/gorm"
)

// Store persists credentials. Methods on the Store passed to WithUserLock run
// inside that transaction.
type Store interface {
	FindActive(ctx context.Context, user, id string) (*models.Credential, error)
	FindDefault(ctx context.Context, user string) (*models.Credential, error)
	ListActive(ctx context.Context, user string) ([]models.Credential, error)
	AliasTaken(ctx context.Context, user, alias, excludeID string) (bool, error)
	Insert(ctx context.Context, c *models.Credential) error
	Save(ctx context.Context, c *models.Credential) error
	ClearDefaults(ctx context.Context, user string) error
	SetDefault(ctx context.Context, user, id string) error
	Deactivate(ctx context.Context, user, id string) error
	MarkValidated(ctx context.Context, id string, at time.Time) error
	DeleteAllForUser(ctx context.Context, user string) (int64, error)

	// WithUserLock runs fn in one transaction holding the user's credential lock.
	WithUserLock(ctx context.Context, user string, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) active(ctx context.Context, user string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("user_id = ? AND state = ?", user, models.CredentialActive)
}

func (s *gormStore) FindActive(ctx context.Context, user, id string) (*models.Credential, error) {
	var c models.Credential
	err := s.active(ctx, user).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("credential not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return &c, nil
}

func (s *gormStore) FindDefault(ctx context.Context, user string) (*models.Credential, error) {
	var c models.Credential
	err := s.active(ctx, user).Where("is_default = ?", true).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("no default credential set")
	}
	if err != nil {
		return nil, fmt.Errorf("find default credential: %w", err)
	}
	return &c, nil
}

func (s *gormStore) ListActive(ctx context.Context, user string) ([]models.Credential, error) {
	var out []models.Credential
	if err := s.active(ctx, user).Order("is_default DESC").Order("alias ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func (s *gormStore) AliasTaken(ctx context.Context, user, alias, excludeID string) (bool, error) {
	q := s.active(ctx, user).Where("alias = ?", alias)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check alias: %w", err)
	}
	return n > 0, nil
}

func (s *gormStore) Insert(ctx context.Context, c *models.Credential) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("credential with this alias already exists")
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *gormStore) Save(ctx context.Context, c *models.Credential) error {
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("credential with this alias already exists")
		}
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *gormStore) ClearDefaults(ctx context.Context, user string) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("user_id = ? AND is_default = ?", user, true).
		Update("is_default", false).Error
	if err != nil {
		return fmt.Errorf("clear default credentials: %w", err)
	}
	return nil
}

// SetDefault flips every active credential of the user in a single statement,
// so no reader inside or outside the transaction sees two defaults.
func (s *gormStore) SetDefault(ctx context.Context, user, id string) error {
	res := s.active(ctx, user).Update("is_default", gorm.Expr("(id = ?)", id))
	if res.Error != nil {
		return fmt.Errorf("set default credential: %w", res.Error)
	}
	return nil
}

func (s *gormStore) Deactivate(ctx context.Context, user, id string) error {
	res := s.active(ctx, user).Where("id = ?", id).Updates(map[string]any{
		"state":      models.CredentialDeactivated,
		"is_default": false,
	})
	if res.Error != nil {
		return fmt.Errorf("deactivate credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("credential not found")
	}
	return nil
}

func (s *gormStore) MarkValidated(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).Where("id = ?", id).
		Update("last_validated_at", at).Error
	if err != nil {
		return fmt.Errorf("mark credential validated: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteAllForUser(ctx context.Context, user string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", user).Delete(&models.Credential{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete user credentials: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) WithUserLock(ctx context.Context, user string, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, user); err != nil {
			return err
		}
		return fn(&gormStore{db: tx})
	})
}

// lockUser serializes credential writes per user. sqlite already allows a
// single writer connection, so only postgres needs an explicit lock.
func lockUser(tx *gorm.DB, user string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", user).Error; err != nil {
		return fmt.Errorf("lock user credentials: %w", err)
	}
	return nil
}
