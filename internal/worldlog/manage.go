package worldlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
	"github.com/OCAP2/worldlog/pkg/core"
)

// Clear discards the recording and every file it owns.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clearLocked()
}

func (l *Log) clearLocked() error {
	var errs []error
	if l.store != nil {
		errs = append(errs, l.store.Remove())
		l.store = nil
	}
	errs = append(errs, l.over.Reset())
	l.mem.Reset()
	if err := os.RemoveAll(l.recordingDir()); err != nil {
		errs = append(errs, fmt.Errorf("%w: remove %s: %w", core.ErrIOFailure, l.recordingDir(), err))
	}

	l.bodies = make(map[string]core.BodyInfo)
	l.schemas = nil
	l.byName = make(map[string]*schema.Schema)
	l.times = nil
	l.last = nil
	l.encBuf = nil
	l.readBuf = nil
	l.readRecs = nil
	l.snaps.Purge()
	l.meta = disk.TimeMeta{}
	l.state = StateEmpty
	l.position = -1
	l.inst.tickCount.Store(0)
	l.inst.onDisk.Store(false)

	for _, fn := range l.clearListeners {
		fn()
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Error("Failed to clear recording", "error", err)
		return err
	}
	return nil
}

// Rename changes the recording name and moves its files along.
func (l *Log) Rename(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !validName(name) {
		return fmt.Errorf("%w: invalid recording name %q", core.ErrInvalidState, name)
	}
	if name == l.name {
		return nil
	}
	oldDir := l.recordingDir()
	newDir := filepath.Join(l.opts.TempRoot, name)
	if _, err := os.Stat(newDir); err == nil {
		return fmt.Errorf("%w: %s already exists", core.ErrIOFailure, newDir)
	}

	if l.store != nil {
		if err := l.store.Relocate(filepath.Join(newDir, logDirName)); err != nil {
			return err
		}
	}
	if err := l.over.Relocate(newDir); err != nil {
		return err
	}
	if err := os.RemoveAll(oldDir); err != nil {
		l.logger.Warn("Failed to remove old recording directory", "dir", oldDir, "error", err)
	}

	l.logger.Info("Recording renamed", "from", l.name, "to", name)
	l.name = name
	l.meta.Name = name
	return nil
}

// ExtendTimeRange raises the declared total time of the recording. Smaller
// values are ignored.
func (l *Log) ExtendTimeRange(total float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRecording && l.state != StateLoaded {
		return fmt.Errorf("%w: extend in state %s", core.ErrInvalidState, l.state)
	}
	if total <= l.meta.TotalTime {
		return nil
	}
	l.meta.TotalTime = total
	for _, st := range []*disk.Store{l.store, l.over.Store()} {
		if st == nil {
			continue
		}
		if err := st.ExtendTime(total); err != nil {
			return err
		}
	}
	return nil
}

// StopSimulation flushes and closes the files being written. Recording can
// continue; the next Append reopens them.
func (l *Log) StopSimulation() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, st := range []*disk.Store{l.store, l.over.Store()} {
		if st != nil && st.Writing() {
			errs = append(errs, st.SetMeta(l.meta), st.CloseWrite())
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	l.logger.Debug("Simulation stopped", "ticks", len(l.times), "time", l.meta.CurrentTime)
	return nil
}

// SetPosition moves the playback cursor. Listeners run only when it changes.
func (l *Log) SetPosition(pos int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos < -1 || pos >= len(l.times) {
		return fmt.Errorf("%w: position %d of %d", core.ErrOutOfRange, pos, len(l.times))
	}
	if pos == l.position {
		return nil
	}
	l.position = pos
	for _, fn := range l.posListeners {
		fn(pos)
	}
	return nil
}

// Position returns the playback cursor, -1 when unset.
func (l *Log) Position() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// OnPositionChanged registers fn to run whenever the cursor moves.
func (l *Log) OnPositionChanged(fn func(pos int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posListeners = append(l.posListeners, fn)
}

// OnCleared registers fn to run whenever the recording is discarded.
func (l *Log) OnCleared(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearListeners = append(l.clearListeners, fn)
}
