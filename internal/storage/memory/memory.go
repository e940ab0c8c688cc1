// internal/storage/memory/memory.go
package memory

import (
	"fmt"
	"sync"

	"github.com/OCAP2/worldlog/pkg/core"
)

// Tick is one recorded tick: a record per character in layout order and
// the contact list.
type Tick struct {
	Records  [][]float32
	Contacts []core.ContactPoint
}

// Backend holds encoded ticks. Once frozen it only serves reads; later
// ticks go to disk.
type Backend struct {
	ticks  []Tick
	frozen bool
	mu     sync.RWMutex
}

// New creates an empty memory backend
func New() *Backend {
	return &Backend{}
}

// Append stores a copy of the records and contacts of one tick.
func (b *Backend) Append(recs [][]float32, contacts []core.ContactPoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return fmt.Errorf("%w: memory log is frozen", core.ErrInvalidState)
	}
	width := 0
	for _, r := range recs {
		width += len(r)
	}
	flat := make([]float32, 0, width)
	tick := Tick{Records: make([][]float32, len(recs))}
	for i, r := range recs {
		start := len(flat)
		flat = append(flat, r...)
		tick.Records[i] = flat[start:len(flat):len(flat)]
	}
	if len(contacts) > 0 {
		tick.Contacts = append([]core.ContactPoint(nil), contacts...)
	}
	b.ticks = append(b.ticks, tick)
	return nil
}

// Get returns the tick at pos. The result is shared and must not be modified.
func (b *Backend) Get(pos int) (Tick, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos < 0 || pos >= len(b.ticks) {
		return Tick{}, fmt.Errorf("%w: memory position %d of %d", core.ErrOutOfRange, pos, len(b.ticks))
	}
	return b.ticks[pos], nil
}

// Len returns the number of stored ticks
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ticks)
}

// Freeze stops further appends
func (b *Backend) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = true
}

// Frozen reports whether Freeze was called since the last Reset
func (b *Backend) Frozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

// Reset drops every tick and unfreezes the backend
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks = nil
	b.frozen = false
}
