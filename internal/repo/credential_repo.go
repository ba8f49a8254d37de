// Package repo implements the local persistence of the client, backed by GORM.
// This file stores the access token, one row per profile.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// GetCredential returns the stored row for profile, or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, profile string) (*domain.Credential, error) {
	var c domain.Credential
	if err := db.WithContext(ctx).Where("profile = ?", profile).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCredential inserts or replaces the token of profile.
func SaveCredential(ctx context.Context, db *gorm.DB, profile, token string) error {
	row := domain.Credential{Profile: profile, AccessToken: token, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "profile"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "updated_at"}),
		}).
		Create(&row).Error
}

// DeleteCredential removes the row of profile. Deleting a missing row is not an error.
func DeleteCredential(ctx context.Context, db *gorm.DB, profile string) error {
	return db.WithContext(ctx).Where("profile = ?", profile).Delete(&domain.Credential{}).Error
}

// CredentialStore is the durable access-token slot of one profile.
// Get returns "" when nothing is stored; Set("") removes the stored copy.
type CredentialStore struct {
	db      *gorm.DB
	profile string
}

// NewCredentialStore binds a store to a database handle and profile name.
func NewCredentialStore(db *gorm.DB, profile string) *CredentialStore {
	return &CredentialStore{db: db, profile: profile}
}

// Get returns the persisted token or "".
func (s *CredentialStore) Get(ctx context.Context) (string, error) {
	c, err := GetCredential(ctx, s.db, s.profile)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Set persists token, or removes the stored copy when token is blank.
func (s *CredentialStore) Set(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return DeleteCredential(ctx, s.db, s.profile)
	}
	return SaveCredential(ctx, s.db, s.profile, token)
}
