package devsize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeRejectsRegularFile(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-device")
	r.NoError(os.WriteFile(path, []byte("hi"), 0o644))

	_, err := Probe(path)
	r.ErrorIs(err, ErrNotADaxDevice)
}

func TestProbeMissingPath(t *testing.T) {
	r := require.New(t)

	_, err := Probe(filepath.Join(t.TempDir(), "missing"))
	r.Error(err)
}

func TestReadSysfsUint(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "size")
	r.NoError(os.WriteFile(path, []byte("2048\n"), 0o644))

	n, err := readSysfsUint(path)
	r.NoError(err)
	r.Equal(uint64(2048), n)
}
