package famfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	r := require.New(t)

	r.Equal(uint64(0), alignUp(0, AllocUnit))
	r.Equal(uint64(AllocUnit), alignUp(1, AllocUnit))
	r.Equal(uint64(AllocUnit), alignUp(AllocUnit, AllocUnit))
	r.Equal(uint64(2*AllocUnit), alignUp(AllocUnit+1, AllocUnit))
}

func TestMkfsConfigLogCapacityDefault(t *testing.T) {
	r := require.New(t)

	var cfg *MkfsConfig
	r.Equal(DefaultLogCapacity, cfg.logCapacity())

	cfg = &MkfsConfig{}
	r.Equal(DefaultLogCapacity, cfg.logCapacity())

	cfg = &MkfsConfig{LogCapacity: 42}
	r.Equal(uint64(42), cfg.logCapacity())
}

func TestLoadMkfsConfig(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mkfs.toml")
	contents := "log_capacity = 1024\n\n[[extra_devices]]\npath = \"/dev/dax1.0\"\nsize = 1073741824\n"
	r.NoError(os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadMkfsConfig(path)
	r.NoError(err)
	r.Equal(uint64(1024), cfg.LogCapacity)
	r.Len(cfg.ExtraDevices, 1)
	r.Equal("/dev/dax1.0", cfg.ExtraDevices[0].Path)
	r.Equal(uint64(1073741824), cfg.ExtraDevices[0].Size)
}

// TestWriteSeededAndVerifyRoundTrip exercises spec §8 seed scenario 1's
// content generation/verification without a real DAX device: it writes
// the deterministic PRNG stream to a plain file and checks Verify
// reads it back byte-identical, and that changing the seed is
// detected as a mismatch.
func TestWriteSeededAndVerifyRoundTrip(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "seeded.bin")

	f, err := os.Create(path)
	r.NoError(err)
	const size = uint64(3*copyChunkSize + 17)
	r.NoError(writeSeeded(f, 42, size))
	r.NoError(f.Close())

	mismatch, err := Verify(path, 42, size)
	r.NoError(err)
	r.Equal(int64(-1), mismatch)

	mismatch, err = Verify(path, 43, size)
	r.NoError(err)
	r.GreaterOrEqual(mismatch, int64(0))
}

func TestVerifyDetectsTruncation(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")

	f, err := os.Create(path)
	r.NoError(err)
	r.NoError(writeSeeded(f, 7, 100))
	r.NoError(f.Close())

	_, err = Verify(path, 7, 200)
	r.Error(err)
}

// TestMkfsRequiresDaxDevice documents that Mkfs needs a real character
// or block device for its sysfs size probe, and that Mkfile/Cp's ioctl
// calls only succeed against a famfs-bound device; exercising them
// end-to-end needs hardware this suite doesn't have.
func TestMkfsRequiresDaxDevice(t *testing.T) {
	t.Skip("requires a real DAX device bound to the famfs kernel driver")
}
