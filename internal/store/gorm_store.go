package store

import (
	"context"
	"errors"
	"time"

	"github.com/glucolog/backend/internal/models"
	"gorm.io/gorm"
)

// GormStore keeps the allowlist in a relational database (postgres in
// deployment, sqlite for single-binary installs and tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Credential{}, &models.Challenge{}, &models.AuditLog{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Credentials(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&creds).Error; err != nil {
		return nil, wrapGormErr(err)
	}
	return creds, nil
}

func (s *GormStore) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).First(&cred, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, wrapGormErr(err)
	}
	return &cred, nil
}

func (s *GormStore) AddCredential(ctx context.Context, cred *models.Credential) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Credential{}).Where("id = ?", cred.ID).Count(&count).Error; err != nil {
			return wrapGormErr(err)
		}
		if count > 0 {
			return ErrDuplicateCredential
		}
		if err := tx.Create(cred).Error; err != nil {
			return wrapGormErr(err)
		}
		return nil
	})
}

func (s *GormStore) UpdateCredential(ctx context.Context, id string, update CredentialUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred models.Credential
		err := tx.First(&cred, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCredentialNotFound
		}
		if err != nil {
			return wrapGormErr(err)
		}

		changes := map[string]interface{}{}
		if update.FriendlyName != nil {
			changes["friendly_name"] = *update.FriendlyName
		}
		if update.Counter != nil {
			changes["counter"] = *update.Counter
		}
		if update.LastUsedAt != nil {
			changes["last_used_at"] = *update.LastUsedAt
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&cred).Updates(changes).Error; err != nil {
			return wrapGormErr(err)
		}
		return nil
	})
}

func (s *GormStore) RemoveCredential(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.Credential{}, "id = ?", id)
	if result.Error != nil {
		return wrapGormErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *GormStore) CredentialCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Credential{}).Count(&count).Error; err != nil {
		return 0, wrapGormErr(err)
	}
	return count, nil
}

func (s *GormStore) SetChallenge(ctx context.Context, ch *models.Challenge) error {
	ch.Slot = models.ChallengeSlot
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot = ?", models.ChallengeSlot).Delete(&models.Challenge{}).Error; err != nil {
			return wrapGormErr(err)
		}
		if err := tx.Create(ch).Error; err != nil {
			return wrapGormErr(err)
		}
		return nil
	})
}

func (s *GormStore) GetChallenge(ctx context.Context) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.db.WithContext(ctx).First(&ch, "slot = ?", models.ChallengeSlot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapGormErr(err)
	}
	if ch.Expired(time.Now()) {
		// lazy expiry
		_ = s.ClearChallenge(ctx)
		return nil, nil
	}
	return &ch, nil
}

func (s *GormStore) ClearChallenge(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("slot = ?", models.ChallengeSlot).Delete(&models.Challenge{}).Error; err != nil {
		return wrapGormErr(err)
	}
	return nil
}

func wrapGormErr(err error) error {
	return errors.Join(ErrUnavailable, err)
}
