package invite

import "github.com/samber/lo"

type Library struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Unavailable bool   `json:"unavailable"`
}

// BackendCatalog is what one backend currently offers for sharing. Labels is
// only populated for Komga.
type BackendCatalog struct {
	Active    bool      `json:"active"`
	Libraries []Library `json:"libraries"`
	Labels    []string  `json:"labels"`
}

func (b BackendCatalog) Library(id string) (Library, bool) {
	return lo.Find(b.Libraries, func(l Library) bool { return l.ID == id })
}

func (b BackendCatalog) HasLabel(label string) bool {
	return lo.Contains(b.Labels, label)
}

func (b BackendCatalog) LibraryIDs() []string {
	return lo.Map(b.Libraries, func(l Library, _ int) string { return l.ID })
}

// Config is a snapshot of every backend's catalog.
type Config struct {
	Komga     BackendCatalog `json:"komga"`
	Navidrome BackendCatalog `json:"navidrome"`
}

func (c Config) For(kind Kind) BackendCatalog {
	switch kind {
	case KindKomga:
		return c.Komga
	case KindNavidrome:
		return c.Navidrome
	}
	return BackendCatalog{}
}
