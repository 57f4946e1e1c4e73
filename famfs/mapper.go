package famfs

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mapping is a shared memory mapping of a region of a device or meta
// file. The caller owns it for its lifetime and must call Close on
// every exit path (spec §3, "Ownership/lifecycle").
type Mapping struct {
	file     *os.File
	data     []byte
	writable bool
}

// MapRaw memory-maps length bytes at offset 0 of the device at
// devicePath. This is the raw mode of §4.3: used by mkfs, by fsck
// against an unmounted device, by the CLI's mount command, and by
// mkmeta before the meta files exist.
func MapRaw(devicePath string, length uint64, writable bool) (*Mapping, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(devicePath, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening device %s", devicePath)
	}

	m, err := mapFile(f, int64(length), writable)
	if err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// MapMetaFile opens and maps a meta file's entire extent. The caller
// supplies the already-resolved path (see mount.go's ResolveMount,
// which walks upward from any interior path until .meta/<name> is
// found).
func MapMetaFile(path string, writable bool) (*Mapping, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening meta file %s", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat meta file %s", path)
	}

	m, err := mapFile(f, fi.Size(), writable)
	if err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func mapFile(f *os.File, length int64, writable bool) (*Mapping, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: mapping length must be positive, got %d", ErrInvalidArg, length)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}

	return &Mapping{file: f, data: data, writable: writable}, nil
}

// Bytes returns the mapped region. Mutating it is only valid if the
// mapping was opened writable.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Writable reports whether the mapping permits stores.
func (m *Mapping) Writable() bool {
	return m.writable
}

// File returns the backing *os.File, e.g. so a caller can fstat it or
// pass its descriptor to an ioctl.
func (m *Mapping) File() *os.File {
	return m.file
}

// Close unmaps the region and closes the backing file descriptor.
func (m *Mapping) Close() error {
	var unmapErr, closeErr error
	if m.data != nil {
		unmapErr = unix.Munmap(m.data)
		m.data = nil
	}
	if m.file != nil {
		closeErr = m.file.Close()
		m.file = nil
	}
	if unmapErr != nil {
		return errors.Wrap(unmapErr, "munmap")
	}
	return closeErr
}
