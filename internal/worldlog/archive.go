package worldlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OCAP2/worldlog/internal/codec"
	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
	"github.com/OCAP2/worldlog/pkg/core"
)

// Result tells whether a long operation ran to the end.
type Result int

const (
	Completed Result = iota
	Cancelled
)

func (r Result) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "completed"
}

// progressGroups is the number of units a pass over all ticks reports.
const progressGroups = 32

// groups spreads n steps over progressGroups units of work.
type groups struct {
	b        progress.Bridge
	n        int
	reported int
}

func (g *groups) done(i int) {
	units := progressGroups
	if g.n > 0 {
		units = i * progressGroups / g.n
	}
	if units > g.reported {
		g.b.Worked(units - g.reported)
		g.reported = units
	}
}

// Save writes the recording as an archive at p. Memory-held ticks are first
// replayed into a temporary full-history store.
func (l *Log) Save(ctx context.Context, p string, b progress.Bridge) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.savable(p); err != nil {
		return Completed, err
	}
	start := time.Now()
	b = progress.WithContext(ctx, b)
	defer b.Done()

	src, full, err := l.source()
	if err != nil {
		return l.outputFailed("save", p, err)
	}
	units := src.EntryCount()
	if full != nil {
		units += progressGroups
		defer l.removeFull(full)
	}
	b.Begin(units)

	if err := l.prepare(src, full, b); err != nil {
		return l.outputFailed("save", p, err)
	}
	if err := src.Save(p, l.name, b); err != nil {
		return l.outputFailed("save", p, err)
	}

	l.state = StateSaved
	elapsed := time.Since(start)
	l.inst.saveDuration.Record(ctx, elapsed.Seconds())
	l.logger.Info("Recording saved", "name", l.name, "path", p, "ticks", len(l.times), "duration", elapsed)
	return Completed, nil
}

// ExportCSV writes one <character>.csv file per character into dir.
func (l *Log) ExportCSV(ctx context.Context, dir string, b progress.Bridge) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.savable(dir); err != nil {
		return Completed, err
	}
	b = progress.WithContext(ctx, b)
	defer b.Done()

	src, full, err := l.source()
	if err != nil {
		return l.outputFailed("export", dir, err)
	}
	units := len(l.schemas)
	if full != nil {
		units += progressGroups
		defer l.removeFull(full)
	}
	b.Begin(units)

	if err := l.prepare(src, full, b); err != nil {
		return l.outputFailed("export", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return l.outputFailed("export", dir, fmt.Errorf("%w: mkdir %s: %w", core.ErrIOFailure, dir, err))
	}

	var written []string
	for _, sc := range l.schemas {
		p := filepath.Join(dir, sc.Character+".csv")
		if err := src.ExportCSV(p, sc.Character, b); err != nil {
			for _, w := range written {
				os.Remove(w)
			}
			return l.outputFailed("export", dir, err)
		}
		written = append(written, p)
		b.Worked(1)
	}
	l.logger.Info("Recording exported to CSV", "name", l.name, "dir", dir, "characters", len(written))
	return Completed, nil
}

func (l *Log) savable(p string) error {
	if err := l.readable(); err != nil {
		return err
	}
	if len(l.times) == 0 {
		return fmt.Errorf("%w: nothing to write to %s", core.ErrNoRecording, p)
	}
	return nil
}

// source returns the store holding the whole recording. When ticks live in
// memory it returns an empty full-history store as both src and full; the
// caller fills it through prepare and removes it afterwards.
func (l *Log) source() (src, full *disk.Store, err error) {
	if l.store != nil {
		return l.store, nil, nil
	}
	full = disk.New(filepath.Join(l.recordingDir(), fullDirName), l.logger)
	for _, sc := range l.schemas {
		if err := full.Register(sc); err != nil {
			return nil, nil, err
		}
	}
	return full, full, nil
}

// prepare leaves src complete and closed for write.
func (l *Log) prepare(src, full *disk.Store, b progress.Bridge) error {
	if full != nil {
		return l.restoreFull(full, b)
	}
	if err := src.SetMeta(l.meta); err != nil {
		return err
	}
	return src.CloseWrite()
}

// restoreFull replays the memory segment into full and joins the overflow
// store onto it, giving the same files a disk-mode recording would have.
func (l *Log) restoreFull(full *disk.Store, b progress.Bridge) error {
	if err := full.OpenWrite(l.meta); err != nil {
		return err
	}
	n := l.mem.Len()
	g := groups{b: b, n: n}
	for pos := 0; pos < n; pos++ {
		if err := progress.Check(b); err != nil {
			return err
		}
		tick, err := l.mem.Get(pos)
		if err != nil {
			return err
		}
		if err := l.appendDisk(full, tick.Records, tick.Contacts); err != nil {
			return err
		}
		g.done(pos + 1)
	}

	if l.over.Overflowed() {
		over := l.over.Store()
		if err := errors.Join(over.SetMeta(l.meta), over.CloseWrite()); err != nil {
			return err
		}
		if err := full.Join(over, l.over.ChangePos()); err != nil {
			return err
		}
	}
	g.done(n)
	if err := full.SetMeta(l.meta); err != nil {
		return err
	}
	if err := full.CloseWrite(); err != nil {
		return err
	}
	l.logger.Debug("Full history restored", "memoryTicks", n, "changePos", l.over.ChangePos(), "ticks", full.Len())
	return nil
}

func (l *Log) removeFull(full *disk.Store) {
	if err := full.Remove(); err != nil {
		l.logger.Warn("Failed to remove full-history store", "dir", full.Dir(), "error", err)
	}
}

func (l *Log) outputFailed(op, p string, err error) (Result, error) {
	if errors.Is(err, progress.ErrCancelled) {
		l.logger.Info("Operation cancelled", "op", op, "path", p)
		return Cancelled, nil
	}
	l.logger.Error("Operation failed", "op", op, "path", p, "error", err)
	return Completed, fmt.Errorf("%s %s: %w", op, p, err)
}

// Load replaces the current recording with the archive at p. The recording
// takes the archive's base name. Cancellation clears the log.
func (l *Log) Load(ctx context.Context, p string, b progress.Bridge) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b = progress.WithContext(ctx, b)
	defer b.Done()

	if err := l.clearLocked(); err != nil {
		return Completed, err
	}
	entries, err := disk.ArchiveEntryCount(p)
	if err != nil {
		return Completed, fmt.Errorf("load %s: %w", p, err)
	}
	b.Begin(entries + progressGroups)

	name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	if !validName(name) {
		name = DefaultName
	}
	dir := filepath.Join(l.opts.TempRoot, name)
	st, err := disk.Load(p, filepath.Join(dir, logDirName), b, l.logger)
	if err != nil {
		return l.loadFailed(p, dir, err)
	}

	l.name = name
	l.store = st
	for _, c := range st.Characters() {
		sc, _ := st.Schema(c)
		l.schemas = append(l.schemas, sc)
		l.byName[c] = sc
	}
	l.encBuf = make([][]float32, len(l.schemas))
	l.meta = st.Meta()
	l.meta.Name = name

	if err := l.readTimes(b); err != nil {
		return l.loadFailed(p, dir, err)
	}
	if n := len(l.times); n > 0 {
		if l.last, err = l.readDisk(st, n-1, l.times[n-1]); err != nil {
			return l.loadFailed(p, dir, err)
		}
	}

	l.state = StateLoaded
	l.inst.tickCount.Store(int64(len(l.times)))
	l.inst.onDisk.Store(true)
	l.logger.Info("Recording loaded", "name", name, "path", p, "ticks", len(l.times), "characters", len(l.schemas))
	return Completed, nil
}

// readTimes fills the time index from the first character's records, or
// from the time step when the recording has no characters.
func (l *Log) readTimes(b progress.Bridge) error {
	n := l.store.Len()
	l.times = make([]float64, 0, n)
	g := groups{b: b, n: n}
	var first *schema.Schema
	if len(l.schemas) > 0 {
		first = l.schemas[0]
	}
	for pos := 0; pos < n; pos++ {
		if err := progress.Check(b); err != nil {
			return err
		}
		if first == nil {
			l.times = append(l.times, l.meta.StartTime+float64(pos)*l.meta.TimeStep)
		} else {
			rec, err := l.store.Read(first.Character, pos, l.readBuf)
			if err != nil {
				return err
			}
			l.readBuf = rec
			l.times = append(l.times, codec.Time(rec))
		}
		g.done(pos + 1)
	}
	g.done(n)
	return nil
}

func (l *Log) loadFailed(p, dir string, err error) (Result, error) {
	cerr := l.clearLocked()
	if rerr := os.RemoveAll(dir); rerr != nil {
		cerr = errors.Join(cerr, rerr)
	}
	if errors.Is(err, progress.ErrCancelled) {
		l.logger.Info("Load cancelled", "path", p)
		return Cancelled, cerr
	}
	l.logger.Error("Failed to load recording", "path", p, "error", err)
	return Completed, errors.Join(fmt.Errorf("load %s: %w", p, err), cerr)
}
