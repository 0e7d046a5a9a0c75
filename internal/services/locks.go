package services

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int // guarded by the map shard lock
}

// Locks hands out one mutex per key. An entry lives only while some caller
// holds or waits for it.
type Locks struct {
	m cmap.ConcurrentMap[string, *lockEntry]
}

func NewLocks() *Locks {
	return &Locks{m: cmap.New[*lockEntry]()}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locks) Lock(key string) func() {
	e := l.m.Upsert(key, nil, func(exist bool, inMap, _ *lockEntry) *lockEntry {
		if !exist {
			inMap = &lockEntry{}
		}
		inMap.refs++
		return inMap
	})
	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.m.RemoveCb(key, func(_ string, v *lockEntry, exists bool) bool {
				if !exists {
					return false
				}
				v.refs--
				return v.refs == 0
			})
		})
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Locks) Len() int {
	return l.m.Count()
}
