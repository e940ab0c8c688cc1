package disk

import (
	"errors"
	"fmt"

	"github.com/OCAP2/worldlog/pkg/core"
)

// Join truncates s to atPos ticks and appends every tick of other.
// Both stores must hold the same characters with identical layouts;
// other must not be open for write.
func (s *Store) Join(other *Store, atPos int) error {
	if other == s {
		return fmt.Errorf("%w: cannot join a disk log with itself", core.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if other.writing {
		return fmt.Errorf("%w: %s is still open for write", core.ErrInvalidState, other.dir)
	}
	if err := s.sameLayout(other); err != nil {
		return err
	}
	if err := other.openReadLocked(); err != nil {
		return err
	}
	if err := other.checkCounts(); err != nil {
		return err
	}
	if atPos < 0 || atPos > s.lenLocked() {
		return fmt.Errorf("%w: join at %d of %d", core.ErrOutOfRange, atPos, s.lenLocked())
	}

	opened := false
	if !s.writing {
		if err := s.openWriteLocked(); err != nil {
			return err
		}
		opened = true
	}
	err := s.joinLocked(other, atPos)
	if opened {
		err = errors.Join(err, s.writeMeta(), s.closeWriteLocked())
	}
	return err
}

func (s *Store) joinLocked(other *Store, atPos int) error {
	if err := s.truncateLocked(atPos); err != nil {
		return err
	}
	n := other.lenLocked()
	for _, name := range s.order {
		if err := s.streams[name].appendFrom(other.streams[name]); err != nil {
			return err
		}
	}
	if err := s.contacts.appendFrom(&other.contacts); err != nil {
		return err
	}
	if other.meta.CurrentTime > s.meta.CurrentTime {
		s.meta.CurrentTime = other.meta.CurrentTime
	}
	if other.meta.TotalTime > s.meta.TotalTime {
		s.meta.TotalTime = other.meta.TotalTime
	}
	s.logger.Debug("Disk logs joined", "at", atPos, "appended", n, "dir", s.dir)
	return s.writeMeta()
}

func (s *Store) sameLayout(other *Store) error {
	if len(s.order) != len(other.order) {
		return fmt.Errorf("%w: %d characters vs %d", core.ErrFormatMismatch, len(s.order), len(other.order))
	}
	for _, name := range s.order {
		o, ok := other.streams[name]
		if !ok {
			return fmt.Errorf("%w: %s missing from %s", core.ErrFormatMismatch, name, other.dir)
		}
		if mine := s.streams[name].schema; mine.Width() != o.schema.Width() || !mine.Equal(o.schema) {
			return fmt.Errorf("%w: %s: record layouts differ", core.ErrFormatMismatch, name)
		}
	}
	return nil
}

// checkCounts verifies that every stream holds one record per contact entry.
func (s *Store) checkCounts() error {
	n := s.contacts.count
	for _, name := range s.order {
		if st := s.streams[name]; st.count != n {
			return fmt.Errorf("%w: %s: %d records for %d ticks", core.ErrFormatMismatch, st.path, st.count, n)
		}
	}
	return nil
}
