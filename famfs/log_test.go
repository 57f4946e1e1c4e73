package famfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogEntryRoundTrip(t *testing.T) {
	r := require.New(t)

	e, err := NewFileCreate("a/b/file.bin", 4096, 0o644, 1000, 1000, []Extent{
		{Offset: 10 * AllocUnit, Length: AllocUnit},
	})
	r.NoError(err)

	enc, err := e.MarshalBinary()
	r.NoError(err)
	r.Len(enc, LogEntrySize)

	var e2 LogEntry
	r.NoError(e2.UnmarshalBinary(enc))
	r.Equal(e.Kind, e2.Kind)
	r.Equal("a/b/file.bin", e2.RelPathString())
	r.Equal(e.Size, e2.Size)
	r.Equal(e.ActiveExtents(), e2.ActiveExtents())
}

func TestNewFileCreateRejectsAbsolutePath(t *testing.T) {
	r := require.New(t)

	_, err := NewFileCreate("/etc/passwd", 10, 0o644, 0, 0, []Extent{{Offset: AllocUnit, Length: AllocUnit}})
	r.ErrorIs(err, ErrPathNotRelative)
}

func TestNewFileCreateRejectsNoExtents(t *testing.T) {
	r := require.New(t)

	_, err := NewFileCreate("a", 10, 0o644, 0, 0, nil)
	r.ErrorIs(err, ErrInvalidArg)
}

func TestValidateFileCreateRejectsZeroOffset(t *testing.T) {
	r := require.New(t)

	e, err := NewFileCreate("a", 10, 0o644, 0, 0, []Extent{{Offset: 0, Length: AllocUnit}})
	r.NoError(err)
	r.ErrorIs(e.ValidateFileCreate(1000*AllocUnit), ErrLogCorrupt)
}

func TestValidateFileCreateRejectsOversizeDeclared(t *testing.T) {
	r := require.New(t)

	e, err := NewFileCreate("a", AllocUnit+1, 0o644, 0, 0, []Extent{{Offset: AllocUnit, Length: AllocUnit}})
	r.NoError(err)
	r.ErrorIs(e.ValidateFileCreate(1000*AllocUnit), ErrLogCorrupt)
}

func newTestLog(t *testing.T, capacity uint64) *Log {
	t.Helper()
	region := make([]byte, LogHeaderSize+capacity*LogEntrySize)
	log, err := FormatLog(region, capacity)
	require.NoError(t, err)
	return log
}

func TestLogAppendAndIterate(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 4)

	e1, err := NewMkdir("dir1", 0o755, 0, 0)
	r.NoError(err)
	seq1, idx1, err := log.Append(e1)
	r.NoError(err)
	r.Equal(uint64(0), seq1)
	r.Equal(uint64(0), idx1)

	e2, err := NewFileCreate("dir1/file", 100, 0o644, 0, 0, []Extent{{Offset: AllocUnit, Length: AllocUnit}})
	r.NoError(err)
	seq2, idx2, err := log.Append(e2)
	r.NoError(err)
	r.Equal(uint64(1), seq2)
	r.Equal(uint64(1), idx2)
	r.Greater(seq2, seq1)

	var got []LogEntry
	it := log.Iterate()
	for {
		e, _, ok, err := it.Next()
		r.NoError(err)
		if !ok {
			break
		}
		got = append(got, e)
	}
	r.Len(got, 2)
	r.Equal(LogEntryMkdir, got[0].Kind)
	r.Equal(LogEntryFileCreate, got[1].Kind)
}

func TestLogFull(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 2)

	e, err := NewMkdir("a", 0o755, 0, 0)
	r.NoError(err)

	_, _, err = log.Append(e)
	r.NoError(err)
	_, _, err = log.Append(e)
	r.NoError(err)

	hdrBefore := log.Header()

	_, _, err = log.Append(e)
	r.ErrorIs(err, ErrLogFull)

	r.Equal(hdrBefore, log.Header())
}

func TestOpenLogRejectsBadMagic(t *testing.T) {
	r := require.New(t)

	region := make([]byte, LogHeaderSize+4*LogEntrySize)
	_, err := OpenLog(region)
	r.ErrorIs(err, ErrLogCorrupt)
}

func TestOpenLogRoundTrip(t *testing.T) {
	r := require.New(t)

	log := newTestLog(t, 4)
	e, err := NewMkdir("a", 0o755, 0, 0)
	r.NoError(err)
	_, _, err = log.Append(e)
	r.NoError(err)

	region := log.region

	reopened, err := OpenLog(region)
	r.NoError(err)
	r.Equal(uint64(1), reopened.Header().NextIndex)
}
