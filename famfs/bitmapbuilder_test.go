package famfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testDeviceSize = 1000 * AllocUnit
const testReservedPrefix = 3 * AllocUnit // matches seed scenario 5's "reserving the first 3"

func TestBuildBitmapReservesPrefix(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 8)

	bm, stats, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)
	r.True(bm.Test(0))
	r.True(bm.Test(1))
	r.True(bm.Test(2))
	r.False(bm.Test(3))
	r.Equal(0, stats.AllocErrors)
}

func TestBuildBitmapCountsFileCreate(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 8)

	e, err := NewFileCreate("f1", 4096, 0o644, 0, 0, []Extent{{Offset: 3 * AllocUnit, Length: AllocUnit}})
	r.NoError(err)
	_, _, err = log.Append(e)
	r.NoError(err)

	bm, stats, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)
	r.True(bm.Test(3))
	r.Equal(uint64(4096), stats.SizeTotal)
	r.Equal(AllocUnit, stats.AllocTotal)
	r.Equal(0, stats.AllocErrors)
}

func TestBuildBitmapDetectsCollision(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 8)

	e1, err := NewFileCreate("f1", 4096, 0o644, 0, 0, []Extent{{Offset: 3 * AllocUnit, Length: 2 * AllocUnit}})
	r.NoError(err)
	_, _, err = log.Append(e1)
	r.NoError(err)

	// overlaps e1's second AU by one AU (seed scenario 4)
	e2, err := NewFileCreate("f2", 4096, 0o644, 0, 0, []Extent{{Offset: 4 * AllocUnit, Length: AllocUnit}})
	r.NoError(err)
	_, _, err = log.Append(e2)
	r.NoError(err)

	_, stats, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)
	r.Equal(1, stats.AllocErrors)
}

func TestBuildBitmapSkipsMkdir(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 8)
	e, err := NewMkdir("dir1", 0o755, 0, 0)
	r.NoError(err)
	_, _, err = log.Append(e)
	r.NoError(err)

	_, stats, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)
	r.Equal(uint64(0), stats.SizeTotal)
	r.Equal(uint64(0), stats.AllocTotal)
}

func TestBuildBitmapDeterministic(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 8)
	e, err := NewFileCreate("f1", 4096, 0o644, 0, 0, []Extent{{Offset: 3 * AllocUnit, Length: AllocUnit}})
	r.NoError(err)
	_, _, err = log.Append(e)
	r.NoError(err)

	_, stats1, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)
	_, stats2, err := BuildBitmap(log, testDeviceSize, testReservedPrefix, nil)
	r.NoError(err)

	r.Equal(stats1, stats2)
}

func TestAllocatorFirstFit(t *testing.T) {
	r := require.New(t)

	// 10 AUs total, first 3 reserved (seed scenario 5).
	log := newTestLog(t, 4)
	bm, _, err := BuildBitmap(log, 10*AllocUnit, 3*AllocUnit, nil)
	r.NoError(err)

	off := Allocate(bm, AllocUnit)
	r.Equal(3*AllocUnit, off)

	off2 := Allocate(bm, 2*AllocUnit)
	r.Equal(4*AllocUnit, off2)
}

func TestAllocatorNeverReturnsZero(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 4)
	bm, _, err := BuildBitmap(log, 10*AllocUnit, 0, nil)
	r.NoError(err)

	off := Allocate(bm, AllocUnit)
	r.NotEqual(uint64(0), off)
}

func TestAllocatorOutOfSpace(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 4)
	bm, _, err := BuildBitmap(log, 3*AllocUnit, 3*AllocUnit, nil)
	r.NoError(err)

	off := Allocate(bm, AllocUnit)
	r.Equal(uint64(0), off)
}
