package worldlog

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/OCAP2/worldlog/internal/codec"
	"github.com/OCAP2/worldlog/internal/overflow"
	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-4

func rotZ(a float64) []float64 {
	return codec.AxisAngle{Axis: r3.Vec{Z: 1}, Angle: a}.Matrix()
}

func robotState(i int) *core.CharacterState {
	a := float64(i) * 0.01
	return &core.CharacterState{
		Name: "robot",
		Links: []core.LinkPosition{
			{P: []float64{a, 0, 0.5}, R: rotZ(a)},
			{P: []float64{a, 0.25, 0.75}, R: rotZ(-a)},
		},
		Sensors: &core.SensorState{
			Q:        []float64{a, -a},
			U:        []float64{0.5, -0.5},
			Force:    [][]float64{{1, 2, 3, 0.1, 0.2, a}},
			RateGyro: [][]float64{{0, 0, a}},
		},
		Command:    []float64{a, 2 * a},
		ServoState: []int32{1, int32(i)},
		PowerState: []float64{24, 1.5},
	}
}

func boxState(i int) *core.CharacterState {
	return &core.CharacterState{
		Name:  "box",
		Links: []core.LinkPosition{{P: []float64{1, 2, float64(i) * 0.001}, R: rotZ(0.3)}},
	}
}

func worldAt(i int) *core.WorldState {
	ws := &core.WorldState{
		Time:       float64(i) * 0.001,
		Characters: []*core.CharacterState{robotState(i), boxState(i)},
	}
	if i%4 == 1 {
		ws.Contacts = []core.ContactPoint{{
			PointA: [3]float64{float64(i), 0, 0},
			PointB: [3]float64{float64(i), 0, -0.001},
			Normal: [3]float64{0, 0, 1},
			Depth:  0.001,
		}}
	}
	return ws
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Name:              "run",
		TempRoot:          t.TempDir(),
		StoreAllPositions: true,
		ReadCacheSize:     8,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newRecording(t *testing.T, opts Options) *Log {
	t.Helper()
	l, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, l.Create())
	t.Cleanup(func() { l.Clear() })
	return l
}

func appendTicks(t *testing.T, l *Log, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		require.NoError(t, l.Append(worldAt(i)), "tick %d", i)
	}
}

// overflowAt returns a probe that reports a full heap from the k-th check on.
func overflowAt(k int) overflow.Probe {
	calls := 0
	return overflow.ProbeFunc(func() uint64 {
		calls++
		if calls > k {
			return 0
		}
		return math.MaxUint64
	})
}

func neverOverflow() overflow.Probe {
	return overflow.ProbeFunc(func() uint64 { return math.MaxUint64 })
}

func assertFloatsNear(t *testing.T, want, got []float64, msg string) {
	t.Helper()
	require.Len(t, got, len(want), msg)
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "%s[%d]", msg, i)
	}
}

func assertStateNear(t *testing.T, want, got *core.WorldState) {
	t.Helper()
	require.NotNil(t, got)
	assert.InDelta(t, want.Time, got.Time, 1e-6)
	require.Len(t, got.Characters, len(want.Characters))
	for _, wc := range want.Characters {
		gc := got.Character(wc.Name)
		require.NotNil(t, gc, wc.Name)
		require.Len(t, gc.Links, len(wc.Links))
		for i := range wc.Links {
			assertFloatsNear(t, wc.Links[i].P, gc.Links[i].P, wc.Name+" P")
			assertFloatsNear(t, wc.Links[i].R, gc.Links[i].R, wc.Name+" R")
		}
		if wc.Sensors != nil {
			require.NotNil(t, gc.Sensors, wc.Name)
			assertFloatsNear(t, wc.Sensors.Q, gc.Sensors.Q, wc.Name+" Q")
			assertFloatsNear(t, wc.Sensors.U, gc.Sensors.U, wc.Name+" U")
			require.Len(t, gc.Sensors.Force, len(wc.Sensors.Force))
			for i := range wc.Sensors.Force {
				assertFloatsNear(t, wc.Sensors.Force[i], gc.Sensors.Force[i], wc.Name+" force")
			}
		}
		assertFloatsNear(t, wc.Command, gc.Command, wc.Name+" command")
		assert.Equal(t, len(wc.ServoState), len(gc.ServoState))
		if len(wc.ServoState) > 0 {
			assert.Equal(t, wc.ServoState, gc.ServoState)
		}
	}
	require.Len(t, got.Contacts, len(want.Contacts))
	for i := range want.Contacts {
		assert.InDelta(t, want.Contacts[i].Depth, got.Contacts[i].Depth, tol)
		assert.Equal(t, want.Contacts[i].Normal, got.Contacts[i].Normal)
	}
}

func scalarRows(t *testing.T, l *Log, name string) [][]float64 {
	t.Helper()
	rows := make([][]float64, l.Len())
	for i := range rows {
		row, err := l.ScalarRow(name, i)
		require.NoError(t, err)
		rows[i] = row
	}
	return rows
}

func TestLog_MemoryRoundTrip(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = neverOverflow()
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 20)

	assert.Equal(t, 20, l.Len())
	assert.False(t, l.UsingDisk())
	assert.Equal(t, -1, l.ChangePosition())
	assert.Equal(t, []string{"robot", "box"}, l.Characters())
	diskOpts := testOptions(t)
	diskOpts.UseDisk = true
	ref := newRecording(t, diskOpts)
	appendTicks(t, ref, 0, 20)

	for i := 0; i < 20; i++ {
		got, err := l.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, worldAt(i), got)
		assert.Equal(t, worldAt(i).Time, got.Time, "tick %d", i)
		assert.Equal(t, worldAt(i).Contacts, got.Contacts, "tick %d", i)

		want, err := ref.Seek(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "tick %d", i)
	}
}

func TestLog_DiskRoundTrip(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 20)

	assert.True(t, l.UsingDisk())
	assert.DirExists(t, filepath.Join(opts.TempRoot, "run", logDirName))
	for i := 0; i < 19; i++ {
		got, err := l.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, worldAt(i), got)
	}

	tail, err := l.Seek(19)
	require.NoError(t, err)
	assertStateNear(t, worldAt(19), tail)

	// once another tick arrives the old tail is read from disk
	appendTicks(t, l, 20, 21)
	again, err := l.Seek(19)
	require.NoError(t, err)
	assert.Equal(t, tail, again)
}

func TestLog_SeekReturnsCopies(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 5)

	first, err := l.Seek(2)
	require.NoError(t, err)
	first.Characters[0].Links[0].P[0] = 99
	first.Characters[0].Name = "changed"

	second, err := l.Seek(2)
	require.NoError(t, err)
	assertStateNear(t, worldAt(2), second)
	assert.Equal(t, 1, l.snaps.Len())
}

func TestLog_SeekErrors(t *testing.T) {
	l, err := New(testOptions(t))
	require.NoError(t, err)

	_, err = l.Seek(0)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, l.Create())
	t.Cleanup(func() { l.Clear() })
	appendTicks(t, l, 0, 3)

	ws, err := l.Seek(-1)
	assert.NoError(t, err)
	assert.Nil(t, ws)

	_, err = l.Seek(3)
	assert.ErrorIs(t, err, core.ErrOutOfRange)

	_, err = l.GetTime(3)
	assert.ErrorIs(t, err, core.ErrOutOfRange)
	tm, err := l.GetTime(2)
	require.NoError(t, err)
	assert.Equal(t, 0.002, tm)
}

func TestLog_AppendMismatchKeepsLastGoodState(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 2)

	bad := worldAt(2)
	bad.Characters[0].Links = bad.Characters[0].Links[:1]
	assert.ErrorIs(t, l.Append(bad), core.ErrSchemaMismatch)

	missing := worldAt(2)
	missing.Characters = missing.Characters[:1]
	assert.ErrorIs(t, l.Append(missing), core.ErrSchemaMismatch)

	assert.Equal(t, 2, l.Len())
	appendTicks(t, l, 2, 4)
	got, err := l.Seek(2)
	require.NoError(t, err)
	assertStateNear(t, worldAt(2), got)
}

func TestLog_AppendRequiresRecording(t *testing.T) {
	l, err := New(testOptions(t))
	require.NoError(t, err)
	assert.ErrorIs(t, l.Append(worldAt(0)), core.ErrInvalidState)
	assert.Equal(t, StateEmpty, l.State())
}

func TestLog_Overflow(t *testing.T) {
	const k, n = 7, 20

	opts := testOptions(t)
	opts.Probe = overflowAt(k)
	l := newRecording(t, opts)

	appendTicks(t, l, 0, k)
	before := make([]*core.WorldState, k)
	for i := range before {
		ws, err := l.Seek(i)
		require.NoError(t, err)
		before[i] = ws
	}
	assert.False(t, l.UsingDisk())

	appendTicks(t, l, k, n)
	assert.True(t, l.UsingDisk())
	assert.Equal(t, k, l.ChangePosition())
	assert.DirExists(t, filepath.Join(opts.TempRoot, "run", overflow.DirName))

	for i := 0; i < k; i++ {
		ws, err := l.Seek(i)
		require.NoError(t, err)
		assert.Equal(t, before[i], ws, "tick %d", i)
	}

	diskOpts := testOptions(t)
	diskOpts.UseDisk = true
	ref := newRecording(t, diskOpts)
	appendTicks(t, ref, 0, n)

	for _, name := range []string{"robot", "box"} {
		assert.Equal(t, scalarRows(t, ref, name), scalarRows(t, l, name), name)
	}
	for i := k; i < n; i++ {
		want, err := ref.Seek(i)
		require.NoError(t, err)
		got, err := l.Seek(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "tick %d", i)
	}
}

func TestLog_OverflowReadsLikeMemoryOnly(t *testing.T) {
	const k, n = 3, 12

	opts := testOptions(t)
	opts.Probe = overflowAt(k)
	l := newRecording(t, opts)
	appendTicks(t, l, 0, n)
	require.Equal(t, k, l.ChangePosition())

	memOpts := testOptions(t)
	memOpts.Probe = neverOverflow()
	ref := newRecording(t, memOpts)
	appendTicks(t, ref, 0, n)
	require.False(t, ref.UsingDisk())

	for i := 0; i < n; i++ {
		want, err := ref.Seek(i)
		require.NoError(t, err)
		got, err := l.Seek(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "tick %d", i)
	}
	for _, name := range []string{"robot", "box"} {
		assert.Equal(t, scalarRows(t, ref, name), scalarRows(t, l, name), name)
	}
}

func TestLog_TailReadsLikeStoredTick(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = neverOverflow()
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 4)

	tail, err := l.Seek(3)
	require.NoError(t, err)
	appendTicks(t, l, 4, 5)
	stored, err := l.Seek(3)
	require.NoError(t, err)
	assert.Equal(t, tail, stored)
}

func TestLog_SaveLoadAfterOverflow(t *testing.T) {
	const n = 20

	opts := testOptions(t)
	opts.Probe = overflowAt(9)
	l := newRecording(t, opts)
	appendTicks(t, l, 0, n)
	require.Equal(t, 9, l.ChangePosition())

	path := filepath.Join(t.TempDir(), "walk.zip")
	res, err := l.Save(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res)
	assert.Equal(t, StateSaved, l.State())
	assert.FileExists(t, path)
	assert.NoDirExists(t, filepath.Join(opts.TempRoot, "run", fullDirName))

	loadOpts := testOptions(t)
	loaded := newRecording(t, loadOpts)
	res, err = loaded.Load(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res)
	assert.Equal(t, StateLoaded, loaded.State())
	assert.Equal(t, "walk", loaded.Name())
	require.Equal(t, n, loaded.Len())
	assert.Equal(t, l.Characters(), loaded.Characters())

	for _, name := range []string{"robot", "box"} {
		assert.Equal(t, scalarRows(t, l, name), scalarRows(t, loaded, name), name)
	}
	for i := 0; i < n; i++ {
		live, err := l.Seek(i)
		require.NoError(t, err)
		got, err := loaded.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, live, got)
	}
}

func TestLog_SaveMemoryOnly(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = neverOverflow()
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 10)

	path := filepath.Join(t.TempDir(), "mem.zip")
	res, err := l.Save(context.Background(), path, progress.NewLogReporter(opts.Logger, "save"))
	require.NoError(t, err)
	assert.Equal(t, Completed, res)

	loaded := newRecording(t, testOptions(t))
	_, err = loaded.Load(context.Background(), path, nil)
	require.NoError(t, err)
	require.Equal(t, 10, loaded.Len())
	for i := 0; i < 10; i++ {
		got, err := loaded.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, worldAt(i), got)
	}
	meta := loaded.Meta()
	assert.Equal(t, DefaultTickInterval, meta.TimeStep)
	assert.Equal(t, DefaultTotalTime, meta.TotalTime)
}

func TestLog_SaveRequiresTicks(t *testing.T) {
	l := newRecording(t, testOptions(t))
	_, err := l.Save(context.Background(), filepath.Join(t.TempDir(), "x.zip"), nil)
	assert.ErrorIs(t, err, core.ErrNoRecording)
}

func TestLog_SaveCancelledKeepsRecording(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = overflowAt(4)
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "cancelled.zip")
	res, err := l.Save(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".part")
	assert.Equal(t, StateRecording, l.State())
	assert.Equal(t, 10, l.Len())

	appendTicks(t, l, 10, 12)
	got, err := l.Seek(10)
	require.NoError(t, err)
	assertStateNear(t, worldAt(10), got)
}

func TestLog_SavedRejectsAppend(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 3)

	_, err := l.Save(context.Background(), filepath.Join(t.TempDir(), "s.zip"), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Append(worldAt(3)), core.ErrInvalidState)

	got, err := l.Seek(1)
	require.NoError(t, err)
	assertStateNear(t, worldAt(1), got)
}

func TestLog_LoadCancelled(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	src := newRecording(t, opts)
	appendTicks(t, src, 0, 5)
	path := filepath.Join(t.TempDir(), "c.zip")
	_, err := src.Save(context.Background(), path, nil)
	require.NoError(t, err)

	l := newRecording(t, testOptions(t))
	cleared := 0
	l.OnCleared(func() { cleared++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := l.Load(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res)
	assert.Equal(t, StateEmpty, l.State())
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 2, cleared)
}

func TestLog_LoadMissingArchive(t *testing.T) {
	l := newRecording(t, testOptions(t))
	path := filepath.Join(t.TempDir(), "missing.zip")
	_, err := l.Load(context.Background(), path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIOFailure)
	assert.Contains(t, err.Error(), path)
	assert.Equal(t, StateEmpty, l.State())
}

func TestLog_LoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.zip")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0644))

	l := newRecording(t, testOptions(t))
	_, err := l.Load(context.Background(), path, nil)
	assert.ErrorIs(t, err, core.ErrFormatMismatch)
	assert.Equal(t, StateEmpty, l.State())
}

func TestLog_ClearThenAppend(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 5)

	cleared := 0
	l.OnCleared(func() { cleared++ })
	require.NoError(t, l.Clear())
	assert.Equal(t, 1, cleared)
	assert.Equal(t, StateEmpty, l.State())
	assert.Equal(t, 0, l.Len())
	assert.NoDirExists(t, filepath.Join(opts.TempRoot, "run"))

	require.NoError(t, l.Create())
	ws := &core.WorldState{Time: 0.5, Characters: []*core.CharacterState{boxState(1)}}
	require.NoError(t, l.Append(ws))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, []string{"box"}, l.Characters())
	got, err := l.Seek(0)
	require.NoError(t, err)
	assertStateNear(t, ws, got)
}

// Two links without joints or sensors: the second link is moved by (1,0,0)
// and turned a quarter around Z at tick 1.
func TestLog_TwoLinkScenario(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	require.NoError(t, l.RegisterCharacter(core.BodyInfo{Name: "arm", Links: []core.LinkInfo{
		{Name: "base", JointID: -1},
		{Name: "tip", JointID: -1},
	}}))

	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	tick := func(tm float64, tip core.LinkPosition) *core.WorldState {
		return &core.WorldState{Time: tm, Characters: []*core.CharacterState{{
			Name: "arm",
			Links: []core.LinkPosition{
				{P: []float64{0, 0, 0}, R: identity},
				tip,
			},
		}}}
	}
	quarter := []float64{0, -1, 0, 1, 0, 0, 0, 0, 1}
	require.NoError(t, l.Append(tick(0, core.LinkPosition{P: []float64{0, 0, 0}, R: identity})))
	require.NoError(t, l.Append(tick(0.001, core.LinkPosition{P: []float64{1, 0, 0}, R: quarter})))
	require.NoError(t, l.Append(tick(0.002, core.LinkPosition{P: []float64{1, 0, 0}, R: quarter})))

	sc, ok := l.Schema("arm")
	require.True(t, ok)
	assert.Equal(t, 15, sc.Width())

	ws, err := l.Seek(1)
	require.NoError(t, err)
	tip := ws.Characters[0].Links[1]
	assertFloatsNear(t, []float64{1, 0, 0}, tip.P, "P")
	aa := codec.MatrixToAxisAngle(tip.R)
	assert.InDelta(t, 0, aa.Axis.X, 1e-6)
	assert.InDelta(t, 0, aa.Axis.Y, 1e-6)
	assert.InDelta(t, 1, aa.Axis.Z, 1e-6)
	assert.InDelta(t, math.Pi/2, aa.Angle, 1e-6)

	row, err := l.ScalarRow("arm", 1)
	require.NoError(t, err)
	require.Len(t, row, 15)
	assert.InDelta(t, 1, row[8], 1e-6)
	assert.InDelta(t, 1, row[13], 1e-6)
	assert.InDelta(t, math.Pi/2, row[14], 1e-6)
}

func TestLog_ReducedStorage(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	opts.StoreAllPositions = false
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 3)

	ws, err := l.Seek(0)
	require.NoError(t, err)
	robot := ws.Character("robot")
	require.Len(t, robot.Links, 2)
	assert.True(t, robot.Links[0].Available())
	assert.False(t, robot.Links[1].Available())
}

func TestLog_Rename(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 4)

	assert.ErrorIs(t, l.Rename("../escape"), core.ErrInvalidState)
	require.NoError(t, l.Rename("renamed"))
	assert.Equal(t, "renamed", l.Name())
	assert.Equal(t, "renamed", l.Meta().Name)
	assert.NoDirExists(t, filepath.Join(opts.TempRoot, "run"))
	assert.DirExists(t, filepath.Join(opts.TempRoot, "renamed", logDirName))

	appendTicks(t, l, 4, 6)
	for i := 0; i < 6; i++ {
		got, err := l.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, worldAt(i), got)
	}
}

func TestLog_RenameAfterOverflow(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = overflowAt(2)
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 5)

	require.NoError(t, l.Rename("moved"))
	assert.DirExists(t, filepath.Join(opts.TempRoot, "moved", overflow.DirName))
	appendTicks(t, l, 5, 7)
	got, err := l.Seek(4)
	require.NoError(t, err)
	assertStateNear(t, worldAt(4), got)
}

func TestLog_StopSimulationThenAppend(t *testing.T) {
	opts := testOptions(t)
	opts.UseDisk = true
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 3)
	require.NoError(t, l.StopSimulation())
	appendTicks(t, l, 3, 6)

	assert.Equal(t, 6, l.Len())
	for i := 0; i < 6; i++ {
		got, err := l.Seek(i)
		require.NoError(t, err)
		assertStateNear(t, worldAt(i), got)
	}
	assert.InDelta(t, 0.005, l.Meta().CurrentTime, 1e-9)
}

func TestLog_ExtendTimeRange(t *testing.T) {
	l, err := New(testOptions(t))
	require.NoError(t, err)
	assert.ErrorIs(t, l.ExtendTimeRange(30), core.ErrInvalidState)

	require.NoError(t, l.Create())
	t.Cleanup(func() { l.Clear() })
	require.NoError(t, l.ExtendTimeRange(30))
	assert.Equal(t, 30.0, l.Meta().TotalTime)
	require.NoError(t, l.ExtendTimeRange(10))
	assert.Equal(t, 30.0, l.Meta().TotalTime)
}

func TestLog_ExportCSV(t *testing.T) {
	opts := testOptions(t)
	opts.Probe = overflowAt(3)
	l := newRecording(t, opts)
	appendTicks(t, l, 0, 6)

	dir := filepath.Join(t.TempDir(), "csv")
	res, err := l.ExportCSV(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res)
	assert.Equal(t, StateRecording, l.State())

	f, err := os.Open(filepath.Join(dir, "robot.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 7)
	names, err := l.ScalarNames("robot")
	require.NoError(t, err)
	assert.Equal(t, names, rows[0])
	assert.Equal(t, "0.005", rows[6][0])
	assert.FileExists(t, filepath.Join(dir, "box.csv"))
}

func TestLog_Position(t *testing.T) {
	l := newRecording(t, testOptions(t))
	appendTicks(t, l, 0, 4)

	var seen []int
	l.OnPositionChanged(func(pos int) { seen = append(seen, pos) })

	assert.Equal(t, -1, l.Position())
	require.NoError(t, l.SetPosition(2))
	require.NoError(t, l.SetPosition(2))
	require.NoError(t, l.SetPosition(3))
	assert.ErrorIs(t, l.SetPosition(4), core.ErrOutOfRange)
	assert.Equal(t, []int{2, 3}, seen)
	assert.Equal(t, 3, l.Position())

	require.NoError(t, l.Clear())
	assert.Equal(t, -1, l.Position())
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "cancelled", Cancelled.String())
}
