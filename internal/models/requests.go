package models

import (
	"github.com/arnold/klibrarian-api/internal/invite"
)

// Auth DTOs
type LoginRequest struct {
	Token string `json:"token" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// RedeemRequest is the body of an invite redemption. Username is ignored by
// Komga, which identifies accounts by email.
type RedeemRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"required,username"`
}

type RedeemResponse struct {
	Host  string       `json:"host"`
	Grant invite.Grant `json:"grant"`
}

// InviteStatus is an entry of the admin invite list.
type InviteStatus struct {
	invite.Invite
	Status string `json:"status"` // pending, consumed, expired
}

type ConfigLibrary struct {
	ID          interface{} `json:"id"` // string for Komga, number for Navidrome
	Name        string      `json:"name"`
	Unavailable bool        `json:"unavailable,omitempty"`
}

type ConfigBackend struct {
	Active    bool            `json:"active"`
	Libraries []ConfigLibrary `json:"libraries"`
	Labels    []string        `json:"labels,omitempty"`
}

// ConfigResponse is the invite creation form's view of the catalogs.
type ConfigResponse struct {
	Komga     ConfigBackend `json:"komga"`
	Navidrome ConfigBackend `json:"navidrome"`
}

type InfoResponse struct {
	Servers []string `json:"servers"`
	Version string   `json:"v"`
}
