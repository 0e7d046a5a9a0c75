package invite

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// Validate decides whether inv can be redeemed at now and resolves its grant
// against cfg. Libraries that no longer exist are dropped from the grant.
func Validate(inv Invite, cfg Config, now time.Time) (Grant, error) {
	if inv.Consumed() {
		return Grant{}, ErrAlreadyConsumed
	}
	if inv.ExpiredAt(now) {
		return Grant{}, ErrExpired
	}
	return Resolve(inv, cfg), nil
}

// Resolve computes the grant inv's option stands for against cfg, without
// checking whether inv can still be redeemed.
func Resolve(inv Invite, cfg Config) Grant {
	g := Grant{
		Kind:          inv.Kind,
		LibraryIDs:    []string{},
		LabelsAllow:   inv.Option.LabelsAllow,
		LabelsExclude: inv.Option.LabelsExclude,
		Roles:         DefaultRoles(inv.Kind),
	}
	if roles, ok := inv.Option.Roles.Get(); ok {
		g.Roles = slices.Clone(roles)
	}

	shared, ok := inv.Option.SharedLibraries.Get()
	if !ok || shared.All {
		g.AllLibraries = true
		return g
	}
	known := cfg.For(inv.Kind).LibraryIDs()
	g.LibraryIDs = lo.Filter(shared.LibraryIDs, func(id string, _ int) bool {
		return lo.Contains(known, id)
	})
	return g
}
