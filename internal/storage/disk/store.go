// Package disk stores recorded ticks as packed binary files, one per
// character plus a contact stream, and moves them in and out of archives.
package disk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
)

const (
	metaFileName     = "meta.json"
	contactIndexName = "contacts.idx"
	contactDataName  = "contacts.dat"
	recordExt        = ".tmp"
)

func ioErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", core.ErrIOFailure, op, path, err)
}

// Store is the on-disk log of one recording directory.
type Store struct {
	dir    string
	logger *slog.Logger

	meta     TimeMeta
	order    []string
	streams  map[string]*stream
	contacts contactStream

	writing bool
	reading bool
	mu      sync.Mutex
}

// New returns a store rooted at dir. Nothing is created until OpenWrite.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:     dir,
		logger:  logger,
		streams: make(map[string]*stream),
	}
	s.setPaths()
	return s
}

func (s *Store) setPaths() {
	s.contacts.idxPath = filepath.Join(s.dir, contactIndexName)
	s.contacts.datPath = filepath.Join(s.dir, contactDataName)
	for name, st := range s.streams {
		st.path = filepath.Join(s.dir, name+recordExt)
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func validCharacterName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Register adds a character stream. Registering the same schema twice is a no-op.
func (s *Store) Register(sc *schema.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validCharacterName(sc.Character) {
		return fmt.Errorf("%w: invalid character name %q", core.ErrFormatMismatch, sc.Character)
	}
	if st, ok := s.streams[sc.Character]; ok {
		if st.schema.Equal(sc) {
			return nil
		}
		return fmt.Errorf("%w: %s registered with a different layout", core.ErrSchemaMismatch, sc.Character)
	}
	if s.contacts.count > 0 {
		return fmt.Errorf("%w: cannot add %s after %d ticks", core.ErrSchemaMismatch, sc.Character, s.contacts.count)
	}
	st := newStream(sc, filepath.Join(s.dir, sc.Character+recordExt))
	s.streams[sc.Character] = st
	s.order = append(s.order, sc.Character)
	if s.writing {
		if err := st.openWrite(); err != nil {
			return err
		}
	}
	if s.reading {
		return st.openRead()
	}
	return nil
}

// Characters returns the registered character names in registration order.
func (s *Store) Characters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Schema returns the record layout of a character.
func (s *Store) Schema(name string) (*schema.Schema, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		return nil, false
	}
	return st.schema, true
}

// Meta returns the recording metadata.
func (s *Store) Meta() TimeMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetMeta replaces the recording metadata and persists it when files exist.
func (s *Store) SetMeta(meta TimeMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	if s.writing {
		return s.writeMeta()
	}
	return nil
}

// ExtendTime raises the declared total time of the recording.
func (s *Store) ExtendTime(total float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total <= s.meta.TotalTime {
		return nil
	}
	s.meta.TotalTime = total
	if _, err := os.Stat(s.dir); err == nil {
		return s.writeMeta()
	}
	return nil
}

// OpenWrite creates the store directory and opens every stream for append.
// Existing files are validated and appended to.
func (s *Store) OpenWrite(meta TimeMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writing {
		return nil
	}
	s.meta = meta
	return s.openWriteLocked()
}

func (s *Store) openWriteLocked() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return ioErr("mkdir", s.dir, err)
	}
	for _, name := range s.order {
		if err := s.streams[name].openWrite(); err != nil {
			s.closeWriteLocked()
			return err
		}
	}
	if err := s.contacts.openWrite(); err != nil {
		s.closeWriteLocked()
		return err
	}
	s.writing = true
	s.logger.Debug("Disk log opened for write", "dir", s.dir, "characters", len(s.order))
	return s.writeMeta()
}

// OpenRead opens read handles. Reads only see flushed data; Read flushes
// the writer first when asked for a buffered record.
func (s *Store) OpenRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openReadLocked()
}

func (s *Store) openReadLocked() error {
	if s.reading {
		return nil
	}
	for _, name := range s.order {
		if err := s.streams[name].openRead(); err != nil {
			s.closeReadLocked()
			return err
		}
	}
	if err := s.contacts.openRead(); err != nil {
		s.closeReadLocked()
		return err
	}
	s.reading = true
	return nil
}

// Writing reports whether the store is open for append.
func (s *Store) Writing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writing
}

// Append writes one record of a character.
func (s *Store) Append(name string, rec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return fmt.Errorf("%w: disk log not open for write", core.ErrInvalidState)
	}
	st, ok := s.streams[name]
	if !ok {
		return fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
	}
	return st.append(rec)
}

// AppendContacts writes the contact list of the next tick. Every tick gets
// exactly one entry, so the contact stream also counts ticks.
func (s *Store) AppendContacts(points []core.ContactPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return fmt.Errorf("%w: disk log not open for write", core.ErrInvalidState)
	}
	return s.contacts.append(points)
}

// AppendTick writes one tick: a record per character in registration order,
// then the contact list. When a write fails the store is cut back to the
// ticks it held before, so no partial tick remains.
func (s *Store) AppendTick(recs [][]float32, contacts []core.ContactPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return fmt.Errorf("%w: disk log not open for write", core.ErrInvalidState)
	}
	if len(recs) != len(s.order) {
		return fmt.Errorf("%w: %d records for %d characters", core.ErrFormatMismatch, len(recs), len(s.order))
	}
	for i, name := range s.order {
		if w := s.streams[name].schema.Width(); len(recs[i]) != w {
			return fmt.Errorf("%w: %s: record has %d slots, want %d", core.ErrFormatMismatch, name, len(recs[i]), w)
		}
	}

	n := s.lenLocked()
	err := s.appendTickLocked(recs, contacts)
	if err == nil {
		return nil
	}
	if terr := s.truncateLocked(n); terr != nil {
		err = errors.Join(err, terr)
	}
	s.logger.Warn("Disk log append rolled back", "dir", s.dir, "ticks", n, "error", err)
	return err
}

func (s *Store) appendTickLocked(recs [][]float32, contacts []core.ContactPoint) error {
	for i, name := range s.order {
		if err := s.streams[name].append(recs[i]); err != nil {
			return err
		}
	}
	return s.contacts.append(contacts)
}

// Read returns the record of a character at pos.
func (s *Store) Read(name string, pos int, buf []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
	}
	if err := s.openReadLocked(); err != nil {
		return nil, err
	}
	return st.read(pos, buf)
}

// ReadContacts returns the contact list stored for pos.
func (s *Store) ReadContacts(pos int) ([]core.ContactPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openReadLocked(); err != nil {
		return nil, err
	}
	return s.contacts.read(pos)
}

// Len returns the number of complete ticks: the shortest stream wins.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

func (s *Store) lenLocked() int {
	n := s.contacts.count
	for _, st := range s.streams {
		if st.count < n {
			n = st.count
		}
	}
	return n
}

// Flush pushes buffered records to the files.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	for _, name := range s.order {
		if err := s.streams[name].flush(); err != nil {
			return err
		}
	}
	return s.contacts.flush()
}

// CloseWrite flushes and closes the write handles and updates the metadata.
func (s *Store) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return nil
	}
	err := s.writeMeta()
	return errors.Join(err, s.closeWriteLocked())
}

func (s *Store) closeWriteLocked() error {
	var errs []error
	for _, name := range s.order {
		errs = append(errs, s.streams[name].closeWrite())
	}
	errs = append(errs, s.contacts.closeWrite())
	s.writing = false
	return errors.Join(errs...)
}

// CloseRead closes the read handles.
func (s *Store) CloseRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReadLocked()
}

func (s *Store) closeReadLocked() error {
	var errs []error
	for _, name := range s.order {
		errs = append(errs, s.streams[name].closeRead())
	}
	errs = append(errs, s.contacts.closeRead())
	s.reading = false
	return errors.Join(errs...)
}

// Close closes every handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.writing {
		err = s.writeMeta()
	}
	return errors.Join(err, s.closeWriteLocked(), s.closeReadLocked())
}

// Truncate drops every tick from n on.
func (s *Store) Truncate(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncateLocked(n)
}

func (s *Store) truncateLocked(n int) error {
	if n < 0 || n > s.lenLocked() {
		return fmt.Errorf("%w: truncate to %d of %d", core.ErrOutOfRange, n, s.lenLocked())
	}
	if err := s.openReadLocked(); err != nil {
		return err
	}
	for _, name := range s.order {
		if err := s.streams[name].truncate(n); err != nil {
			return err
		}
	}
	return s.contacts.truncate(n)
}

// Relocate moves the store directory, keeping open handles in the same modes.
func (s *Store) Relocate(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == s.dir {
		return nil
	}
	writing, reading := s.writing, s.reading
	if err := errors.Join(s.closeWriteLocked(), s.closeReadLocked()); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir); err == nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return ioErr("mkdir", filepath.Dir(dir), err)
		}
		if err := os.Rename(s.dir, dir); err != nil {
			return ioErr("rename", s.dir, err)
		}
	}
	s.logger.Debug("Disk log relocated", "from", s.dir, "to", dir)
	s.dir = dir
	s.setPaths()
	if writing {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return ioErr("mkdir", s.dir, err)
		}
		for _, name := range s.order {
			if err := s.streams[name].openWrite(); err != nil {
				return err
			}
		}
		if err := s.contacts.openWrite(); err != nil {
			return err
		}
		s.writing = true
	}
	if reading {
		return s.openReadLocked()
	}
	return nil
}

// Remove closes the store and deletes its directory.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := errors.Join(s.closeWriteLocked(), s.closeReadLocked())
	if rerr := os.RemoveAll(s.dir); rerr != nil {
		err = errors.Join(err, ioErr("remove", s.dir, rerr))
	}
	for _, st := range s.streams {
		st.count, st.flushed = 0, 0
	}
	s.contacts.count, s.contacts.flushed, s.contacts.datSize = 0, 0, 0
	return err
}
