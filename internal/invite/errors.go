package invite

import "errors"

var (
	ErrAlreadyConsumed           = errors.New("invite has already been used")
	ErrExpired                   = errors.New("invite has expired")
	ErrUnknownLibrary            = errors.New("unknown library")
	ErrUnknownLabel              = errors.New("unknown label")
	ErrInactiveBackend           = errors.New("backend is not active")
	ErrInvalidExpiry             = errors.New("expiry must be in the future")
	ErrInvalidPayloadForKind     = errors.New("payload does not match invite kind")
	ErrTokenNotFound             = errors.New("invite not found")
	ErrConcurrentConsumptionLost = errors.New("invite was redeemed by a concurrent request")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrAlreadyConsumed, "already_consumed"},
	{ErrExpired, "expired"},
	{ErrUnknownLibrary, "unknown_library"},
	{ErrUnknownLabel, "unknown_label"},
	{ErrInactiveBackend, "inactive_backend"},
	{ErrInvalidExpiry, "invalid_expiry"},
	{ErrInvalidPayloadForKind, "invalid_payload_for_kind"},
	{ErrTokenNotFound, "token_not_found"},
	{ErrConcurrentConsumptionLost, "concurrent_consumption_lost"},
}

// Code returns a stable identifier for err, or "" if err is not an invite error.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// IsInert reports whether err means the invite can never be redeemed again.
func IsInert(err error) bool {
	return errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrConcurrentConsumptionLost)
}
