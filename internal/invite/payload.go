package invite

import (
	"encoding/json"
	"fmt"
)

// Payload is an administrator's request to create an invite. It is one of
// KomgaPayload or NavidromePayload.
type Payload interface {
	Kind() Kind
	sealed()
}

// KomgaPayload creates a Komga invite.
type KomgaPayload struct {
	Libraries     []string           `json:"libraries"`
	Labels        []string           `json:"labels"`
	ExcludeLabels []string           `json:"excludeLabels"`
	Roles         []string           `json:"roles"`
	ExpiresAt     Optional[UnixTime] `json:"expiresAt"`
}

func (KomgaPayload) Kind() Kind { return KindKomga }
func (KomgaPayload) sealed()    {}

// NavidromePayload creates a Navidrome invite. Navidrome has no labels;
// Labels and ExcludeLabels must be empty and are only decoded so that a
// mismatched request can be rejected.
type NavidromePayload struct {
	Libraries     []int64            `json:"libraries"`
	IsAdmin       bool               `json:"isAdmin"`
	ExpiresAt     Optional[UnixTime] `json:"expiresAt"`
	Labels        []string           `json:"labels,omitempty"`
	ExcludeLabels []string           `json:"excludeLabels,omitempty"`
}

func (NavidromePayload) Kind() Kind { return KindNavidrome }
func (NavidromePayload) sealed()    {}

// DecodePayload decodes a JSON creation request, dispatching on its "mode".
func DecodePayload(data []byte) (Payload, error) {
	var head struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	kind, err := ParseKind(head.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayloadForKind, err)
	}
	switch kind {
	case KindKomga:
		var p KomgaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode komga payload: %w", err)
		}
		return p, nil
	case KindNavidrome:
		var p NavidromePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode navidrome payload: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidPayloadForKind, kind)
}
