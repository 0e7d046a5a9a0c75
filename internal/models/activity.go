package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity action types.
const (
	ActionInviteCreated  = "invite_created"
	ActionInviteRedeemed = "invite_redeemed"
	ActionInviteDeleted  = "invite_deleted"
	ActionInvitePurged   = "invite_purged"
	ActionRedeemFailed   = "invite_redeem_failed"
	ActionGrantReapplied = "invite_grant_reapplied"
)

// Activity is an audit entry for something that happened to an invite.
type Activity struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	InviteToken uuid.UUID `json:"inviteToken" gorm:"type:uuid;index;not null"`
	Kind        string    `json:"kind" gorm:"not null"`
	ActionType  string    `json:"actionType" gorm:"not null;index"`
	AccountID   *string   `json:"accountId"`
	Metadata    *string   `json:"metadata"` // JSON string for extra context
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
