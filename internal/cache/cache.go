package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/OCAP2/worldlog/pkg/core"
)

// SnapshotCache keeps recently decoded disk ticks so that scrubbing back
// and forth over a recording does not hit the files for every frame.
// A cache created with size <= 0 stores nothing.
type SnapshotCache struct {
	lru *lru.Cache[int, *core.WorldState]
}

func NewSnapshotCache(size int) (*SnapshotCache, error) {
	if size <= 0 {
		return &SnapshotCache{}, nil
	}
	c, err := lru.New[int, *core.WorldState](size)
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{lru: c}, nil
}

// Get returns the cached snapshot of a tick. The snapshot is shared.
func (c *SnapshotCache) Get(pos int) (*core.WorldState, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(pos)
}

func (c *SnapshotCache) Add(pos int, ws *core.WorldState) {
	if c.lru == nil {
		return
	}
	c.lru.Add(pos, ws)
}

// Purge drops every entry, e.g. when ticks are rewritten or the log is cleared.
func (c *SnapshotCache) Purge() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
}

func (c *SnapshotCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
