package famfs

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/arramesh42/famfs/pkg/devsize"
	"github.com/arramesh42/famfs/pkg/ioctlfs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// copyChunkSize matches the teacher's Buffers.BufferSliceSize (1 MiB),
// the unit cp streams source bytes in (spec §4.9).
const copyChunkSize = 1024 * 1024

// Mkfs formats a raw device: it probes the device's byte size,
// chooses a log region sized for cfg's capacity, and writes the
// initial superblock and empty log header (spec §4.9 "mkmeta" sibling
// operation — mkfs itself is assumed by the rest of §4, formalized
// here).
func Mkfs(devicePath string, cfg *MkfsConfig, logger *slog.Logger) (*Superblock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mkfs", "device", devicePath)

	size, err := devsize.Probe(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "probing device size for %s", devicePath)
	}

	logOffset := AllocUnit
	capacity := cfg.logCapacity()
	logLength := alignUp(LogHeaderSize+capacity*LogEntrySize, AllocUnit)

	if size < logOffset+logLength {
		return nil, fmt.Errorf("%w: device %s (%d bytes) too small for log capacity %d", ErrInvalidArg, devicePath, size, capacity)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, "generating filesystem UUID")
	}

	var sb Superblock
	sb.Magic = SuperblockMagic
	copy(sb.UUID[:], id[:])
	sb.LogOffset = logOffset
	sb.LogLength = logLength

	devices := []ConfiguredDevice{{Path: devicePath, Size: size}}
	if cfg != nil {
		devices = append(devices, cfg.ExtraDevices...)
	}
	if len(devices) > MaxDevices {
		return nil, fmt.Errorf("%w: %d devices exceeds MaxDevices %d", ErrInvalidArg, len(devices), MaxDevices)
	}
	sb.DeviceCount = uint32(len(devices))
	for i, d := range devices {
		if err := setDevicePath(&sb.Devices[i], d.Path); err != nil {
			return nil, err
		}
		sb.Devices[i].Size = d.Size
	}

	if err := sb.Validate(); err != nil {
		return nil, errors.Wrap(err, "formatted superblock failed validation")
	}

	m, err := MapRaw(devicePath, logOffset+logLength, true)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	region := m.Bytes()

	enc, err := sb.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(region[:SuperblockSize], enc)

	if _, err := FormatLog(region[logOffset:logOffset+logLength], capacity); err != nil {
		return nil, err
	}

	logger.Info("formatted famfs device", "uuid", id.String(), "size", size, "log_capacity", capacity)

	return &sb, nil
}

// Mkmeta locates the mount for device via /proc/mounts, creates
// .meta/, and binds .superblock and .log to their fixed device
// offsets (spec §4.9).
func Mkmeta(devicePath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mkmeta", "device", devicePath)

	mount, err := FindFamfsMountByDevice(devicePath)
	if err != nil {
		return err
	}
	if mount == nil {
		return fmt.Errorf("%w: %s is not mounted as famfs", ErrNotMounted, devicePath)
	}

	sbMapping, err := MapRaw(devicePath, SuperblockSize, false)
	if err != nil {
		return err
	}
	defer sbMapping.Close()

	var sb Superblock
	if err := sb.UnmarshalBinary(sbMapping.Bytes()); err != nil {
		return err
	}
	if err := sb.Validate(); err != nil {
		return err
	}

	metaDir := filepath.Join(mount.MountPoint, ".meta")
	if err := os.MkdirAll(metaDir, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", metaDir)
	}

	if err := bindMetaFile(metaDir, string(MetaSuperblock), ioctlfs.FileTypeSuperblock, 0, SuperblockSize); err != nil {
		return err
	}
	if err := bindMetaFile(metaDir, string(MetaLog), ioctlfs.FileTypeLog, sb.LogOffset, sb.LogLength); err != nil {
		return err
	}

	logger.Info("meta files bound", "mount", mount.MountPoint)
	return nil
}

func bindMetaFile(metaDir, name string, fileType uint32, offset, length uint64) error {
	path := filepath.Join(metaDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	if err := ioctlfs.NOP(f.Fd()); err != nil {
		return errors.Wrapf(err, "verifying %s is on famfs", path)
	}

	err = ioctlfs.MapCreate(f.Fd(), fileType, length, []ioctlfs.Extent{{Offset: offset, Length: length}})
	if err != nil {
		return errors.Wrapf(err, "binding %s", path)
	}
	return nil
}

// MkfileOptions configures Mkfile's optional behaviors beyond spec
// §4.9's base algorithm.
type MkfileOptions struct {
	// Seed, when non-nil, fills the new file with the deterministic
	// PRNG stream writeSeeded produces, so the seed scenarios of
	// spec §8 are directly executable (SPEC_FULL.md, "verify").
	Seed *int64
}

// Mkfile creates and allocates a new file under an existing famfs
// mount (spec §4.9: file_create, then file_alloc). On any step
// failure the half-built file is unlinked.
func Mkfile(path string, size uint64, mode, uid, gid uint32, opts MkfileOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mkfile", "path", path)

	res, err := ResolveMount(filepath.Dir(path), MetaLog)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, os.FileMode(mode))
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	created := true
	defer func() {
		if created {
			f.Close()
			os.Remove(path)
		}
	}()

	if err := ioctlfs.NOP(f.Fd()); err != nil {
		return errors.Wrapf(err, "%s is not a famfs file", path)
	}

	if uid != 0 || gid != 0 {
		if err := f.Chown(int(uid), int(gid)); err != nil {
			return errors.Wrapf(err, "chown %s", path)
		}
	}

	logMapping, err := MapMetaFile(res.MetaPath, true)
	if err != nil {
		return err
	}
	defer logMapping.Close()

	log, err := OpenLog(logMapping.Bytes())
	if err != nil {
		return err
	}

	sbMapping, err := MapMetaFile(filepath.Join(res.MountPoint, ".meta", string(MetaSuperblock)), false)
	if err != nil {
		return err
	}
	defer sbMapping.Close()

	var sb Superblock
	if err := sb.UnmarshalBinary(sbMapping.Bytes()); err != nil {
		return err
	}

	bm, _, err := BuildBitmap(log, sb.PrimaryDeviceSize(), sb.ReservedPrefix(), logger)
	if err != nil {
		return err
	}

	offset := Allocate(bm, size)
	if offset == 0 {
		return ErrOutOfSpace
	}

	relPath, err := filepath.Rel(res.MountPoint, mustAbs(path))
	if err != nil {
		return errors.Wrapf(err, "relativizing %s to mount %s", path, res.MountPoint)
	}

	extents := []Extent{{Offset: offset, Length: alignUp(size, AllocUnit)}}

	entry, err := NewFileCreate(relPath, size, mode, uid, gid, extents)
	if err != nil {
		return err
	}

	if _, _, err := log.Append(entry); err != nil {
		return err
	}

	if err := ioctlfs.MapCreate(f.Fd(), ioctlfs.FileTypeReg, size, []ioctlfs.Extent{{Offset: offset, Length: extents[0].Length}}); err != nil {
		return errors.Wrapf(err, "binding extent for %s", path)
	}

	if opts.Seed != nil {
		if err := writeSeeded(f, *opts.Seed, size); err != nil {
			return errors.Wrapf(err, "writing seeded content to %s", path)
		}
	}

	created = false
	logger.Info("file created", "size", size, "offset", offset)
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func alignUp(v, au uint64) uint64 {
	return ceilDiv(v, au) * au
}

// Mkdir creates a directory under a famfs mount and appends a MKDIR
// entry recording it (spec §4.9).
func Mkdir(path string, mode, uid, gid uint32, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mkdir", "path", path)

	parent := filepath.Dir(path)
	fi, err := os.Stat(parent)
	if err != nil {
		return errors.Wrapf(err, "stat parent %s", parent)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: parent %s is not a directory", ErrInvalidArg, parent)
	}

	res, err := ResolveMount(parent, MetaLog)
	if err != nil {
		return err
	}

	if err := os.Mkdir(path, os.FileMode(mode)); err != nil {
		return errors.Wrapf(err, "mkdir %s", path)
	}

	if uid != 0 && gid != 0 {
		if err := os.Chown(path, int(uid), int(gid)); err != nil {
			return errors.Wrapf(err, "chown %s", path)
		}
	}

	relPath, err := filepath.Rel(res.MountPoint, mustAbs(path))
	if err != nil {
		return errors.Wrapf(err, "relativizing %s to mount %s", path, res.MountPoint)
	}

	logMapping, err := MapMetaFile(res.MetaPath, true)
	if err != nil {
		return err
	}
	defer logMapping.Close()

	log, err := OpenLog(logMapping.Bytes())
	if err != nil {
		return err
	}

	entry, err := NewMkdir(relPath, mode, uid, gid)
	if err != nil {
		return err
	}

	if _, _, err := log.Append(entry); err != nil {
		return err
	}

	logger.Info("directory created")
	return nil
}

// Cp copies src (a regular famfs file) to dst, which must not already
// exist. It refuses to copy from a non-famfs source (spec §4.9, and
// seed scenario 2 in §8). On any failure dst is unlinked.
func Cp(src, dst string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cp", "src", src, "dst", dst)

	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrInvalidArg, dst)
	}

	sf, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer sf.Close()

	if err := ioctlfs.NOP(sf.Fd()); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrNotFamfs, src, err)
	}

	fi, err := sf.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}

	st, ok := statOwner(fi)
	mode := uint32(fi.Mode().Perm())
	var uid, gid uint32
	if ok {
		uid, gid = st.uid, st.gid
	}

	if err := Mkfile(dst, uint64(fi.Size()), mode, uid, gid, MkfileOptions{}, logger); err != nil {
		return err
	}

	df, err := os.OpenFile(dst, os.O_RDWR, 0)
	if err != nil {
		os.Remove(dst)
		return errors.Wrapf(err, "opening %s", dst)
	}
	defer df.Close()

	// Hide *os.File's ReadFrom/WriteTo so CopyBuffer really copies
	// through buf in copyChunkSize pieces.
	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(struct{ io.Writer }{df}, struct{ io.Reader }{sf}, buf); err != nil {
		os.Remove(dst)
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}

	logger.Info("copied", "bytes", fi.Size())
	return nil
}

// writeSeeded fills f with the deterministic PRNG stream keyed by
// seed, up to size bytes (SPEC_FULL.md, "verify").
func writeSeeded(f *os.File, seed int64, size uint64) error {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, copyChunkSize)
	var written uint64
	for written < size {
		n := uint64(len(buf))
		if size-written < n {
			n = size - written
		}
		chunk := buf[:n]
		if _, err := rng.Read(chunk); err != nil {
			return err
		}
		if _, err := f.Write(chunk); err != nil {
			return err
		}
		written += n
	}
	return nil
}

// Verify reads path through its famfs extents and compares every byte
// against the deterministic PRNG stream seeded by seed (SPEC_FULL.md,
// "verify"; spec §8 seed scenarios). It returns the first mismatching
// offset, or -1 if the file matches.
func Verify(path string, seed int64, size uint64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(seed))
	want := make([]byte, copyChunkSize)
	got := make([]byte, copyChunkSize)

	var offset uint64
	for offset < size {
		n := uint64(len(want))
		if size-offset < n {
			n = size - offset
		}

		if _, err := rng.Read(want[:n]); err != nil {
			return -1, err
		}
		if _, err := io.ReadFull(f, got[:n]); err != nil {
			return int64(offset), errors.Wrapf(err, "reading %s at offset %d", path, offset)
		}

		for i := uint64(0); i < n; i++ {
			if want[i] != got[i] {
				return int64(offset + i), nil
			}
		}

		offset += n
	}

	return -1, nil
}
