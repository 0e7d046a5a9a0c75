package invite

import (
	"slices"

	"github.com/samber/lo"
)

// RoleNavidromeAdmin is the role that makes a Navidrome account an administrator.
const RoleNavidromeAdmin = "admin"

// DefaultKomgaRoles are assigned to a Komga account when the invite names none.
var DefaultKomgaRoles = []string{"USER", "FILE_DOWNLOAD", "PAGE_STREAMING"}

// Grant is what a redeemed invite resolves to against the current catalog.
type Grant struct {
	Kind          Kind               `json:"kind"`
	AllLibraries  bool               `json:"allLibraries"`
	LibraryIDs    []string           `json:"libraryIds"`
	LabelsAllow   Optional[[]string] `json:"labelsAllow"`
	LabelsExclude Optional[[]string] `json:"labelsExclude"`
	Roles         []string           `json:"roles"`
}

// DefaultRoles returns the roles given to an account when an invite of kind
// carries none. Role strings are opaque and backend specific.
func DefaultRoles(kind Kind) []string {
	if kind == KindKomga {
		return slices.Clone(DefaultKomgaRoles)
	}
	return []string{}
}

func (g Grant) HasRole(role string) bool {
	return lo.Contains(g.Roles, role)
}

// Allows reports whether a resource in libraryID tagged with labels is
// visible under the grant. An excluded label always wins over an allowed one.
func (g Grant) Allows(libraryID string, labels []string) bool {
	if !g.AllLibraries && !lo.Contains(g.LibraryIDs, libraryID) {
		return false
	}
	if exclude, ok := g.LabelsExclude.Get(); ok && lo.Some(labels, exclude) {
		return false
	}
	if allow, ok := g.LabelsAllow.Get(); ok {
		return lo.Some(labels, allow)
	}
	return true
}
