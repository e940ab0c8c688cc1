// Package overflow decides when a memory-backed recording must move its
// remaining ticks to disk and maps tick positions to the right segment.
package overflow

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
)

// DirName is the subdirectory of a recording that holds overflow ticks.
const DirName = "over"

// DefaultTolerance is the free heap below which a recording overflows.
const DefaultTolerance = 4 * 1024 * 1024

// Segment tells where a tick lives.
type Segment int

const (
	SegmentMemory Segment = iota
	SegmentOverflow
)

// Controller performs the one-time switch from memory to disk.
type Controller struct {
	probe     Probe
	tolerance uint64
	logger    *slog.Logger

	changePos int
	store     *disk.Store
}

// New creates a controller. A zero tolerance uses DefaultTolerance.
func New(probe Probe, tolerance uint64, logger *slog.Logger) *Controller {
	if probe == nil {
		probe = RuntimeProbe{}
	}
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{probe: probe, tolerance: tolerance, logger: logger, changePos: -1}
}

// Overflowed reports whether the switch has happened.
func (c *Controller) Overflowed() bool {
	return c.changePos >= 0
}

// ChangePos is the first tick stored on disk, or -1 before the switch.
func (c *Controller) ChangePos() int {
	return c.changePos
}

// Store returns the overflow store, nil before the switch.
func (c *Controller) Store() *disk.Store {
	return c.store
}

// Check switches to disk when free heap is below the tolerance. count is the
// number of ticks already held in memory and becomes the change position.
// It returns true when the next tick must go to the overflow store.
func (c *Controller) Check(count int, recordingDir string, schemas []*schema.Schema, meta disk.TimeMeta) (bool, error) {
	if c.Overflowed() {
		return true, nil
	}
	free := c.probe.FreeHeap()
	if free >= c.tolerance {
		return false, nil
	}

	dir := filepath.Join(recordingDir, DirName)
	st := disk.New(dir, c.logger)
	for _, sc := range schemas {
		if err := st.Register(sc); err != nil {
			return false, err
		}
	}
	if err := st.OpenWrite(meta); err != nil {
		st.Remove()
		return false, fmt.Errorf("open overflow log: %w", err)
	}
	c.store = st
	c.changePos = count
	c.logger.Warn("Heap below tolerance, recording continues on disk",
		"freeHeap", free, "tolerance", c.tolerance, "changePos", count, "dir", dir)
	return true, nil
}

// Locate maps a logical tick position to its segment and the position inside it.
func (c *Controller) Locate(pos int) (Segment, int) {
	if c.Overflowed() && pos >= c.changePos {
		return SegmentOverflow, pos - c.changePos
	}
	return SegmentMemory, pos
}

// Relocate moves the overflow store under a new recording directory.
func (c *Controller) Relocate(recordingDir string) error {
	if c.store == nil {
		return nil
	}
	return c.store.Relocate(filepath.Join(recordingDir, DirName))
}

// Reset discards the overflow store and forgets the change position.
func (c *Controller) Reset() error {
	var err error
	if c.store != nil {
		err = c.store.Remove()
	}
	c.store = nil
	c.changePos = -1
	return err
}
