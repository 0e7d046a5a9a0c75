// Package invite implements the invite authorization model: what an invite
// grants, how a creation request is checked against the backend catalogs, and
// when a stored invite may still be redeemed.
package invite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindKomga     Kind = "komga"
	KindNavidrome Kind = "navidrome"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindKomga, KindNavidrome:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown invite kind %q", s)
}

// UnixTime is a time encoded as whole seconds since the epoch.
type UnixTime struct {
	time.Time
}

func At(t time.Time) UnixTime {
	return UnixTime{t.Truncate(time.Second)}
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, u.Unix(), 10), nil
}

func (u *UnixTime) UnmarshalJSON(data []byte) error {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		u.Time = time.Unix(i, 0)
		return nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("timestamp: invalid value %s", data)
	}
	u.Time = time.Unix(int64(f), 0)
	return nil
}

// SharedLibraries selects libraries. When All is set LibraryIDs is ignored.
type SharedLibraries struct {
	All        bool     `json:"all"`
	LibraryIDs []string `json:"libraryIds"`
}

// Option is the scope of a grant.
type Option struct {
	LabelsAllow     Optional[[]string]        `json:"labelsAllow"`
	LabelsExclude   Optional[[]string]        `json:"labelsExclude"`
	SharedLibraries Optional[SharedLibraries] `json:"sharedLibraries"`
	ExpiresAt       Optional[UnixTime]        `json:"expiresAt"`
	Roles           Optional[[]string]        `json:"roles"`
}

// Invite is a single-use capability token.
type Invite struct {
	Kind      Kind             `json:"kind"`
	Token     uuid.UUID        `json:"token"`
	Option    Option           `json:"option"`
	UserID    Optional[string] `json:"user_id"`
	CreatedAt time.Time        `json:"createdAt"`
}

// New returns an unredeemed invite with a fresh random token.
func New(kind Kind, option Option, now time.Time) Invite {
	return Invite{
		Kind:      kind,
		Token:     uuid.New(),
		Option:    option,
		CreatedAt: now,
	}
}

func (i Invite) Consumed() bool {
	return i.UserID.IsSome()
}

// ExpiredAt reports whether the invite is expired at now.
func (i Invite) ExpiredAt(now time.Time) bool {
	exp, ok := i.Option.ExpiresAt.Get()
	return ok && !now.Before(exp.Time)
}
