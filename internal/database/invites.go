package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type inviteRow struct {
	Token     uuid.UUID     `gorm:"type:uuid;primaryKey"`
	Kind      string        `gorm:"not null;index"`
	Option    invite.Option `gorm:"type:text;serializer:json;not null"`
	UserID    *string       `gorm:"type:text;index"`
	ExpiresAt *time.Time    `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (inviteRow) TableName() string { return "invites" }

func rowFromInvite(inv invite.Invite) inviteRow {
	row := inviteRow{
		Token:     inv.Token,
		Kind:      string(inv.Kind),
		Option:    inv.Option,
		CreatedAt: inv.CreatedAt,
	}
	if id, ok := inv.UserID.Get(); ok {
		row.UserID = &id
	}
	if exp, ok := inv.Option.ExpiresAt.Get(); ok {
		t := exp.Time.UTC()
		row.ExpiresAt = &t
	}
	return row
}

func (r inviteRow) toInvite() (invite.Invite, error) {
	kind, err := invite.ParseKind(r.Kind)
	if err != nil {
		return invite.Invite{}, fmt.Errorf("invite %s: %w", r.Token, err)
	}
	inv := invite.Invite{
		Kind:      kind,
		Token:     r.Token,
		Option:    r.Option,
		CreatedAt: r.CreatedAt,
	}
	if r.UserID != nil {
		inv.UserID = invite.Some(*r.UserID)
	}
	return inv, nil
}

// InviteStore persists invites.
type InviteStore struct {
	db *gorm.DB
}

func NewInviteStore(db *gorm.DB) *InviteStore {
	return &InviteStore{db: db}
}

func (s *InviteStore) Create(ctx context.Context, inv invite.Invite) error {
	row := rowFromInvite(inv)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *InviteStore) Get(ctx context.Context, token uuid.UUID) (invite.Invite, error) {
	var row inviteRow
	if err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invite.Invite{}, invite.ErrTokenNotFound
		}
		return invite.Invite{}, err
	}
	return row.toInvite()
}

// List returns every invite, newest first.
func (s *InviteStore) List(ctx context.Context) ([]invite.Invite, error) {
	var rows []inviteRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	invites := make([]invite.Invite, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toInvite()
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, nil
}

func (s *InviteStore) Delete(ctx context.Context, token uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&inviteRow{}, "token = ?", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invite.ErrTokenNotFound
	}
	return nil
}

// Consume binds accountID to the invite if it can still be redeemed at now.
// The check and the update run in one transaction and the update only
// matches an unredeemed row, so concurrent calls for the same token cannot
// both succeed. If ctx is cancelled before commit the invite is untouched.
func (s *InviteStore) Consume(ctx context.Context, token uuid.UUID, accountID string, cfg invite.Config, now time.Time) (invite.Grant, error) {
	var grant invite.Grant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row inviteRow
		if err := query.First(&row, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invite.ErrTokenNotFound
			}
			return err
		}
		inv, err := row.toInvite()
		if err != nil {
			return err
		}
		g, err := invite.Validate(inv, cfg, now)
		if err != nil {
			return err
		}

		result := tx.Model(&inviteRow{}).
			Where("token = ? AND user_id IS NULL", token).
			Update("user_id", accountID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invite.ErrConcurrentConsumptionLost
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return invite.Grant{}, err
	}
	return grant, nil
}

// PurgeExpired deletes invites whose expiry is before cutoff and returns
// their tokens.
func (s *InviteStore) PurgeExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var tokens []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&inviteRow{}).
			Where("expires_at IS NOT NULL AND expires_at < ?", cutoff.UTC()).
			Pluck("token", &tokens).Error; err != nil {
			return err
		}
		if len(tokens) == 0 {
			return nil
		}
		return tx.Delete(&inviteRow{}, "token IN ?", tokens).Error
	})
	return tokens, err
}
