package overflow

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
	"github.com/OCAP2/worldlog/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchemas(t *testing.T) []*schema.Schema {
	t.Helper()
	s, err := schema.Build(core.BodyInfo{Name: "box", Links: []core.LinkInfo{{Name: "base", JointID: -1}}}, true)
	require.NoError(t, err)
	return []*schema.Schema{s}
}

func TestController_NoOverflowWithHeadroom(t *testing.T) {
	c := New(ProbeFunc(func() uint64 { return 1 << 30 }), 0, nil)

	over, err := c.Check(10, t.TempDir(), testSchemas(t), disk.TimeMeta{})
	require.NoError(t, err)
	assert.False(t, over)
	assert.False(t, c.Overflowed())
	assert.Equal(t, -1, c.ChangePos())
	assert.Nil(t, c.Store())

	seg, pos := c.Locate(25)
	assert.Equal(t, SegmentMemory, seg)
	assert.Equal(t, 25, pos)
}

func TestController_SwitchesOnce(t *testing.T) {
	free := uint64(1 << 30)
	c := New(ProbeFunc(func() uint64 { return free }), 1024, nil)
	dir := t.TempDir()

	over, err := c.Check(3, dir, testSchemas(t), disk.TimeMeta{})
	require.NoError(t, err)
	assert.False(t, over)

	free = 100
	over, err = c.Check(7, dir, testSchemas(t), disk.TimeMeta{})
	require.NoError(t, err)
	assert.True(t, over)
	assert.Equal(t, 7, c.ChangePos())
	require.NotNil(t, c.Store())
	assert.Equal(t, filepath.Join(dir, DirName), c.Store().Dir())
	assert.True(t, c.Store().Writing())

	// headroom coming back does not undo the switch
	free = 1 << 30
	over, err = c.Check(9, dir, testSchemas(t), disk.TimeMeta{})
	require.NoError(t, err)
	assert.True(t, over)
	assert.Equal(t, 7, c.ChangePos())

	seg, pos := c.Locate(6)
	assert.Equal(t, SegmentMemory, seg)
	assert.Equal(t, 6, pos)
	seg, pos = c.Locate(9)
	assert.Equal(t, SegmentOverflow, seg)
	assert.Equal(t, 2, pos)
}

func TestController_RelocateAndReset(t *testing.T) {
	c := New(ProbeFunc(func() uint64 { return 0 }), 0, nil)
	root := t.TempDir()
	_, err := c.Check(0, filepath.Join(root, "a"), testSchemas(t), disk.TimeMeta{})
	require.NoError(t, err)

	require.NoError(t, c.Relocate(filepath.Join(root, "b")))
	assert.Equal(t, filepath.Join(root, "b", DirName), c.Store().Dir())

	require.NoError(t, c.Reset())
	assert.False(t, c.Overflowed())
	assert.Nil(t, c.Store())
	_, err = os.Stat(filepath.Join(root, "b", DirName))
	assert.True(t, os.IsNotExist(err))
}

func TestRuntimeProbe(t *testing.T) {
	assert.Equal(t, uint64(0), RuntimeProbe{Limit: 1}.FreeHeap())

	free := RuntimeProbe{Limit: math.MaxInt64 - 1}.FreeHeap()
	assert.Greater(t, free, uint64(1<<40))
}
