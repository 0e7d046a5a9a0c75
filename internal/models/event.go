package models

// Invite event types pushed to connected admin clients.
const (
	EventInviteCreated  = "invite_created"
	EventInviteRedeemed = "invite_redeemed"
	EventInviteDeleted  = "invite_deleted"
	EventInvitePurged   = "invite_purged"
	EventGrantReapplied = "invite_grant_reapplied"
)

// InviteEvent is the JSON message sent over the admin WebSocket.
type InviteEvent struct {
	Type      string      `json:"type"`
	Token     string      `json:"token"`
	Kind      string      `json:"kind"`
	AccountID string      `json:"accountId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}
