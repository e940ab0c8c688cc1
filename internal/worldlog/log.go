// Package worldlog records simulated world states tick by tick and serves
// them back by position, keeping ticks in memory until the heap runs low
// or writing straight to disk.
package worldlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/OCAP2/worldlog/internal/cache"
	"github.com/OCAP2/worldlog/internal/codec"
	"github.com/OCAP2/worldlog/internal/overflow"
	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
	"github.com/OCAP2/worldlog/internal/storage/memory"
	"github.com/OCAP2/worldlog/pkg/core"
)

// State is the lifecycle state of a Log.
type State int

const (
	StateEmpty State = iota
	StateRecording
	StateLoaded
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateLoaded:
		return "loaded"
	case StateSaved:
		return "saved"
	default:
		return "empty"
	}
}

// subdirectories of a recording directory
const (
	logDirName  = "log"
	fullDirName = "full"

	// DefaultName is used until the recording is renamed.
	DefaultName = "worldlog"
	// DefaultTickInterval is the simulation step assumed when none is configured.
	DefaultTickInterval = 0.001
	// DefaultTotalTime is the initial declared length of a recording in seconds.
	DefaultTotalTime = 20.0
)

// Options configures a Log.
type Options struct {
	Name              string
	TempRoot          string
	UseDisk           bool
	StoreAllPositions bool
	TickInterval      float64
	TotalTime         float64
	Method            string
	HeapTolerance     uint64
	Probe             overflow.Probe
	ReadCacheSize     int
	Logger            *slog.Logger
}

// Log is the recorder façade. Every public method holds one lock for its
// whole duration; observers run synchronously under that lock and must not
// call back into the Log.
type Log struct {
	mu     sync.Mutex
	opts   Options
	logger *slog.Logger
	inst   *instruments

	state State
	name  string
	id    uuid.UUID
	meta  disk.TimeMeta

	bodies  map[string]core.BodyInfo
	schemas []*schema.Schema
	byName  map[string]*schema.Schema

	times []float64
	last  *core.WorldState

	store *disk.Store // disk mode or loaded recording
	mem   *memory.Backend
	over  *overflow.Controller
	snaps *cache.SnapshotCache

	position       int
	posListeners   []func(pos int)
	clearListeners []func()

	encBuf   [][]float32
	readBuf  []float32
	readRecs [][]float32
}

// New creates an empty Log.
func New(opts Options) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.TempRoot == "" {
		opts.TempRoot = filepath.Join(os.TempDir(), "worldlog")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.TotalTime <= 0 {
		opts.TotalTime = DefaultTotalTime
	}
	if !validName(opts.Name) {
		return nil, fmt.Errorf("%w: invalid recording name %q", core.ErrInvalidState, opts.Name)
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}
	snaps, err := cache.NewSnapshotCache(opts.ReadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot cache: %w", err)
	}

	return &Log{
		opts:     opts,
		logger:   opts.Logger,
		inst:     inst,
		name:     opts.Name,
		bodies:   make(map[string]core.BodyInfo),
		byName:   make(map[string]*schema.Schema),
		mem:      memory.New(),
		over:     overflow.New(opts.Probe, opts.HeapTolerance, opts.Logger),
		snaps:    snaps,
		position: -1,
	}, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

func (l *Log) recordingDir() string {
	return filepath.Join(l.opts.TempRoot, l.name)
}

// Create discards any previous recording and starts a new one.
func (l *Log) Create() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.clearLocked(); err != nil {
		return err
	}
	l.id = uuid.New()
	l.meta = disk.TimeMeta{
		Name:        l.name,
		RecordingID: l.id.String(),
		TimeStep:    l.opts.TickInterval,
		TotalTime:   l.opts.TotalTime,
		Method:      l.opts.Method,
	}
	l.state = StateRecording
	l.logger.Info("Recording created", "name", l.name, "id", l.id, "useDisk", l.opts.UseDisk)
	return nil
}

// RegisterCharacter sets the body description used to lay out a
// character's records. It must happen before the first tick.
func (l *Log) RegisterCharacter(body core.BodyInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRecording {
		return fmt.Errorf("%w: register in state %s", core.ErrInvalidState, l.state)
	}
	if len(l.times) > 0 {
		return fmt.Errorf("%w: %s registered after %d ticks", core.ErrSchemaMismatch, body.Name, len(l.times))
	}
	if _, err := schema.Build(body, l.opts.StoreAllPositions); err != nil {
		return err
	}
	l.bodies[body.Name] = body
	return nil
}

// Append records one tick. All characters are encoded before anything is
// written, so a mismatching tick leaves the log unchanged.
func (l *Log) Append(ws *core.WorldState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRecording {
		return fmt.Errorf("%w: append in state %s", core.ErrInvalidState, l.state)
	}
	if ws == nil {
		return fmt.Errorf("%w: nil world state", core.ErrSchemaMismatch)
	}
	if len(l.times) == 0 && len(l.schemas) == 0 {
		if err := l.buildSchemas(ws); err != nil {
			return err
		}
	}
	recs, err := l.encode(ws)
	if err != nil {
		if len(l.times) == 0 {
			l.schemas, l.byName = nil, make(map[string]*schema.Schema)
		}
		return err
	}

	// the tail is served as every other tick would be read back
	snap, err := l.decodeTick(recs, ws.Time, cloneContacts(ws.Contacts))
	if err != nil {
		return err
	}

	pos := len(l.times)
	if l.opts.UseDisk {
		if err := l.appendDisk(l.primaryStore(), recs, ws.Contacts); err != nil {
			return err
		}
	} else {
		over, err := l.over.Check(pos, l.recordingDir(), l.schemas, l.meta)
		if err != nil {
			return err
		}
		if over {
			if !l.mem.Frozen() {
				l.mem.Freeze()
				l.inst.overflows.Add(context.Background(), 1)
				l.inst.onDisk.Store(true)
			}
			if err := l.appendDisk(l.over.Store(), recs, ws.Contacts); err != nil {
				return err
			}
		} else if err := l.mem.Append(recs, ws.Contacts); err != nil {
			return err
		}
	}

	l.times = append(l.times, ws.Time)
	l.last = snap
	l.meta.CurrentTime = ws.Time
	l.inst.tickCount.Store(int64(len(l.times)))
	l.inst.appended.Add(context.Background(), 1)
	return nil
}

func (l *Log) buildSchemas(ws *core.WorldState) error {
	schemas := make([]*schema.Schema, 0, len(ws.Characters))
	byName := make(map[string]*schema.Schema, len(ws.Characters))
	for _, cs := range ws.Characters {
		if cs == nil {
			return fmt.Errorf("%w: nil character state", core.ErrSchemaMismatch)
		}
		if _, dup := byName[cs.Name]; dup {
			return fmt.Errorf("%w: duplicate character %q", core.ErrSchemaMismatch, cs.Name)
		}
		var sc *schema.Schema
		var err error
		if body, ok := l.bodies[cs.Name]; ok {
			sc, err = schema.Build(body, l.opts.StoreAllPositions)
		} else {
			sc, err = schema.Infer(cs, l.opts.StoreAllPositions)
		}
		if err != nil {
			return err
		}
		schemas = append(schemas, sc)
		byName[cs.Name] = sc
	}
	l.schemas, l.byName = schemas, byName
	l.encBuf = make([][]float32, len(schemas))
	l.logger.Debug("Record layouts built", "characters", len(schemas))
	return nil
}

// encode returns one record per schema, in schema order.
func (l *Log) encode(ws *core.WorldState) ([][]float32, error) {
	if len(ws.Characters) != len(l.schemas) {
		return nil, fmt.Errorf("%w: %d characters, want %d", core.ErrSchemaMismatch, len(ws.Characters), len(l.schemas))
	}
	for i, sc := range l.schemas {
		cs := ws.Character(sc.Character)
		if cs == nil {
			return nil, fmt.Errorf("%w: character %q missing", core.ErrSchemaMismatch, sc.Character)
		}
		rec, err := codec.Encode(sc, ws.Time, cs, l.encBuf[i])
		if err != nil {
			return nil, err
		}
		l.encBuf[i] = rec
	}
	return l.encBuf, nil
}

// primaryStore returns the disk-mode store, creating it on first use.
func (l *Log) primaryStore() *disk.Store {
	if l.store == nil {
		l.store = disk.New(filepath.Join(l.recordingDir(), logDirName), l.logger)
		l.inst.onDisk.Store(true)
	}
	return l.store
}

func (l *Log) appendDisk(st *disk.Store, recs [][]float32, contacts []core.ContactPoint) error {
	if !st.Writing() {
		for _, sc := range l.schemas {
			if err := st.Register(sc); err != nil {
				return err
			}
		}
		if err := st.OpenWrite(l.meta); err != nil {
			return err
		}
	}
	return st.AppendTick(recs, contacts)
}

// decodeTick rebuilds a world state from one record per schema.
func (l *Log) decodeTick(recs [][]float32, t float64, contacts []core.ContactPoint) (*core.WorldState, error) {
	ws := &core.WorldState{Time: t, Characters: make([]*core.CharacterState, len(l.schemas)), Contacts: contacts}
	for i, sc := range l.schemas {
		_, cs, err := codec.Decode(sc, recs[i])
		if err != nil {
			return nil, err
		}
		ws.Characters[i] = cs
	}
	return ws, nil
}

func cloneContacts(points []core.ContactPoint) []core.ContactPoint {
	if len(points) == 0 {
		return nil
	}
	return append([]core.ContactPoint(nil), points...)
}

// State returns the lifecycle state.
func (l *Log) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Name returns the recording name.
func (l *Log) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

// Meta returns the recording metadata.
func (l *Log) Meta() disk.TimeMeta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta
}

// Characters returns the recorded character names in record order.
func (l *Log) Characters() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.schemas))
	for i, sc := range l.schemas {
		names[i] = sc.Character
	}
	return names
}

// Schema returns the record layout of a character.
func (l *Log) Schema(name string) (*schema.Schema, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc, ok := l.byName[name]
	return sc, ok
}

// Len returns the number of recorded ticks.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.times)
}

// UsingDisk reports whether any tick is served from disk.
func (l *Log) UsingDisk() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil || l.over.Overflowed()
}

// ChangePosition returns the first tick written to the overflow store, or -1.
func (l *Log) ChangePosition() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.over.ChangePos()
}
