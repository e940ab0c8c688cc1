package worldlog

import (
	"context"
	"fmt"

	"github.com/OCAP2/worldlog/internal/codec"
	"github.com/OCAP2/worldlog/internal/overflow"
	"github.com/OCAP2/worldlog/internal/storage/disk"
	"github.com/OCAP2/worldlog/pkg/core"
)

func (l *Log) readable() error {
	switch l.state {
	case StateRecording, StateLoaded, StateSaved:
		return nil
	default:
		return fmt.Errorf("%w: read in state %s", core.ErrInvalidState, l.state)
	}
}

// Seek returns a copy of the world state at pos. A negative pos yields nil.
func (l *Log) Seek(pos int) (*core.WorldState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.readable(); err != nil {
		return nil, err
	}
	ws, err := l.snapshot(pos)
	if err != nil || ws == nil {
		return nil, err
	}
	return ws.Clone(), nil
}

// snapshot returns the possibly shared state at pos.
func (l *Log) snapshot(pos int) (*core.WorldState, error) {
	if pos < 0 {
		return nil, nil
	}
	if pos >= len(l.times) {
		return nil, fmt.Errorf("%w: seek %d of %d", core.ErrOutOfRange, pos, len(l.times))
	}
	if pos == len(l.times)-1 && l.last != nil {
		return l.last, nil
	}

	if ws, ok := l.snaps.Get(pos); ok {
		l.inst.cacheHits.Add(context.Background(), 1)
		return ws, nil
	}
	var ws *core.WorldState
	st, local := l.locate(pos)
	if st == nil {
		tick, err := l.mem.Get(local)
		if err != nil {
			return nil, err
		}
		if ws, err = l.decodeTick(tick.Records, l.times[pos], tick.Contacts); err != nil {
			return nil, err
		}
	} else {
		var err error
		if ws, err = l.readDisk(st, local, l.times[pos]); err != nil {
			return nil, err
		}
		l.inst.diskReads.Add(context.Background(), 1)
	}
	l.snaps.Add(pos, ws)
	return ws, nil
}

// locate returns the store holding pos and the position inside it. A nil
// store means the tick is in memory.
func (l *Log) locate(pos int) (*disk.Store, int) {
	if l.store != nil {
		return l.store, pos
	}
	seg, local := l.over.Locate(pos)
	if seg == overflow.SegmentOverflow {
		return l.over.Store(), local
	}
	return nil, local
}

func (l *Log) readDisk(st *disk.Store, pos int, t float64) (*core.WorldState, error) {
	if len(l.readRecs) != len(l.schemas) {
		l.readRecs = make([][]float32, len(l.schemas))
	}
	for i, sc := range l.schemas {
		rec, err := st.Read(sc.Character, pos, l.readRecs[i])
		if err != nil {
			return nil, err
		}
		l.readRecs[i] = rec
	}
	contacts, err := st.ReadContacts(pos)
	if err != nil {
		return nil, err
	}
	return l.decodeTick(l.readRecs, t, contacts)
}

// GetTime returns the simulation time of the tick at pos.
func (l *Log) GetTime(pos int) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos < 0 || pos >= len(l.times) {
		return 0, fmt.Errorf("%w: time of %d of %d", core.ErrOutOfRange, pos, len(l.times))
	}
	return l.times[pos], nil
}

// ScalarNames returns the flat column names of a character's records.
func (l *Log) ScalarNames(name string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sc, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
	}
	return sc.ScalarNames(), nil
}

// ScalarRow returns the record of a character at pos as flat values, in
// ScalarNames order. Servo slots carry their integer value.
func (l *Log) ScalarRow(name string, pos int) ([]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.readable(); err != nil {
		return nil, err
	}
	sc, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
	}
	if pos < 0 || pos >= len(l.times) {
		return nil, fmt.Errorf("%w: row %d of %d", core.ErrOutOfRange, pos, len(l.times))
	}

	st, local := l.locate(pos)
	if st != nil {
		rec, err := st.Read(name, local, nil)
		if err != nil {
			return nil, err
		}
		return codec.Scalars(sc, rec), nil
	}
	tick, err := l.mem.Get(local)
	if err != nil {
		return nil, err
	}
	for i, s := range l.schemas {
		if s == sc {
			return codec.Scalars(sc, tick.Records[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
}
