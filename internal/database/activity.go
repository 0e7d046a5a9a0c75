package database

import (
	"context"
	"encoding/json"

	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActivityStore struct {
	db *gorm.DB
}

func NewActivityStore(db *gorm.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// Log records an activity. metadata, when non-nil, is stored as JSON.
func (s *ActivityStore) Log(ctx context.Context, token uuid.UUID, kind, actionType string, accountID *string, metadata map[string]interface{}) error {
	activity := models.Activity{
		InviteToken: token,
		Kind:        kind,
		ActionType:  actionType,
		AccountID:   accountID,
	}
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta := string(b)
		activity.Metadata = &meta
	}
	return s.db.WithContext(ctx).Create(&activity).Error
}

// List returns a page of activities, newest first. A non-nil token filters
// to one invite.
func (s *ActivityStore) List(ctx context.Context, token *uuid.UUID, offset, limit int) ([]models.Activity, int64, error) {
	scope := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&models.Activity{})
		if token != nil {
			query = query.Where("invite_token = ?", *token)
		}
		return query
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var activities []models.Activity
	err := scope().Order("created_at DESC").Offset(offset).Limit(limit).Find(&activities).Error
	return activities, total, err
}
