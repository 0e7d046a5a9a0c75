package invite

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// Authorize checks a creation payload against the current catalog and returns
// the option to store on the new invite.
func Authorize(p Payload, cfg Config, now time.Time) (Option, error) {
	switch p := p.(type) {
	case KomgaPayload:
		return authorizeKomga(p, cfg.Komga, now)
	case NavidromePayload:
		return authorizeNavidrome(p, cfg.Navidrome, now)
	default:
		return Option{}, fmt.Errorf("%w: %T", ErrInvalidPayloadForKind, p)
	}
}

func authorizeKomga(p KomgaPayload, cat BackendCatalog, now time.Time) (Option, error) {
	if !cat.Active {
		return Option{}, fmt.Errorf("%w: %s", ErrInactiveBackend, KindKomga)
	}
	if err := checkExpiry(p.ExpiresAt, now); err != nil {
		return Option{}, err
	}
	ids := lo.Uniq(p.Libraries)
	for _, id := range ids {
		lib, ok := cat.Library(id)
		if !ok {
			return Option{}, fmt.Errorf("%w: %s", ErrUnknownLibrary, id)
		}
		if lib.Unavailable {
			return Option{}, fmt.Errorf("%w: %s is unavailable", ErrUnknownLibrary, id)
		}
	}
	for _, label := range lo.Union(p.Labels, p.ExcludeLabels) {
		if !cat.HasLabel(label) {
			return Option{}, fmt.Errorf("%w: %s", ErrUnknownLabel, label)
		}
	}
	return Option{
		LabelsAllow:     nonEmpty(lo.Uniq(p.Labels)),
		LabelsExclude:   nonEmpty(lo.Uniq(p.ExcludeLabels)),
		SharedLibraries: Some(sharedLibraries(ids)),
		ExpiresAt:       p.ExpiresAt,
		Roles:           nonEmpty(lo.Uniq(p.Roles)),
	}, nil
}

func authorizeNavidrome(p NavidromePayload, cat BackendCatalog, now time.Time) (Option, error) {
	if !cat.Active {
		return Option{}, fmt.Errorf("%w: %s", ErrInactiveBackend, KindNavidrome)
	}
	if len(p.Labels) > 0 || len(p.ExcludeLabels) > 0 {
		return Option{}, fmt.Errorf("%w: %s invites cannot carry labels", ErrInvalidPayloadForKind, KindNavidrome)
	}
	if err := checkExpiry(p.ExpiresAt, now); err != nil {
		return Option{}, err
	}
	ids := lo.Uniq(lo.Map(p.Libraries, func(id int64, _ int) string {
		return strconv.FormatInt(id, 10)
	}))
	for _, id := range ids {
		if _, ok := cat.Library(id); !ok {
			return Option{}, fmt.Errorf("%w: %s", ErrUnknownLibrary, id)
		}
	}
	opt := Option{
		SharedLibraries: Some(sharedLibraries(ids)),
		ExpiresAt:       p.ExpiresAt,
	}
	if p.IsAdmin {
		opt.Roles = Some([]string{RoleNavidromeAdmin})
	}
	return opt, nil
}

func checkExpiry(exp Optional[UnixTime], now time.Time) error {
	at, ok := exp.Get()
	if ok && !at.After(now) {
		return fmt.Errorf("%w: %s", ErrInvalidExpiry, at.UTC().Format(time.RFC3339))
	}
	return nil
}

// sharedLibraries treats an empty selection as every library.
func sharedLibraries(ids []string) SharedLibraries {
	if len(ids) == 0 {
		return SharedLibraries{All: true, LibraryIDs: []string{}}
	}
	return SharedLibraries{LibraryIDs: ids}
}

func nonEmpty(s []string) Optional[[]string] {
	if len(s) == 0 {
		return None[[]string]()
	}
	return Some(s)
}
