// Package famfs implements the user-space control plane for famfs, a
// shared-memory file system for DAX-capable devices. It owns the
// on-media superblock/log format, the log-replay algorithm, the
// log-derived space allocator, and the namespace operations
// (mkfs, mkmeta, mkfile, mkdir, cp, fsck) built on top of them.
package famfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AllocUnit is the fixed allocation granularity. All extent offsets
// and lengths on the device are integer multiples of it.
const AllocUnit uint64 = 2 * 1024 * 1024

// SuperblockMagic identifies a famfs superblock.
const SuperblockMagic uint32 = 0x87654321

// MaxDevices bounds the device table carried in the superblock. famfs
// v1 allocates only against device[0]; additional entries are
// informational.
const MaxDevices = 4

// DevicePathLen bounds the device path string stored per descriptor.
const DevicePathLen = 256

// SuperblockSize is the fixed size of the on-media superblock
// structure, rounded up to a convenient page-ish size. It is not
// required to be AU-aligned; LogOffset is.
const SuperblockSize = 4096

// DeviceDescriptor describes one device backing the file system.
type DeviceDescriptor struct {
	Path [DevicePathLen]byte
	Size uint64
}

// PathString returns the descriptor's path with trailing zero bytes
// trimmed.
func (d DeviceDescriptor) PathString() string {
	n := bytes.IndexByte(d.Path[:], 0)
	if n < 0 {
		n = len(d.Path)
	}
	return string(d.Path[:n])
}

func setDevicePath(d *DeviceDescriptor, path string) error {
	if len(path) >= DevicePathLen {
		return fmt.Errorf("%w: device path %q too long", ErrInvalidArg, path)
	}
	var buf [DevicePathLen]byte
	copy(buf[:], path)
	d.Path = buf
	return nil
}

// Superblock is the fixed-size structure at device offset 0. Every
// field is a plain value type so encoding/binary can marshal it
// without relying on Go's own struct padding.
type Superblock struct {
	Magic       uint32
	Pad0        uint32
	UUID        [16]byte
	DeviceCount uint32
	Pad1        uint32
	Devices     [MaxDevices]DeviceDescriptor
	LogOffset   uint64
	LogLength   uint64
	Checksum    uint32 // reserved; always zero in this version
	Reserved    [SuperblockSize - 1108]byte
}

// MarshalBinary encodes the superblock in its on-media little-endian
// layout.
func (sb *Superblock) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a superblock from its on-media layout.
func (sb *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < SuperblockSize {
		return fmt.Errorf("%w: superblock region too short (%d bytes)", ErrBadSuperblock, len(data))
	}
	return binary.Read(bytes.NewReader(data[:SuperblockSize]), binary.LittleEndian, sb)
}

// Validate checks magic and structural invariants and returns an
// error wrapping ErrBadSuperblock for the first one that fails, or nil
// when all hold. It never computes or checks the checksum
// field, which is reserved for a future version (spec §9).
func (sb *Superblock) Validate() error {
	if sb.Magic != SuperblockMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrBadSuperblock, sb.Magic)
	}
	if sb.DeviceCount == 0 || sb.DeviceCount > MaxDevices {
		return fmt.Errorf("%w: device count %d out of range", ErrBadSuperblock, sb.DeviceCount)
	}
	if sb.LogOffset%AllocUnit != 0 || sb.LogLength%AllocUnit != 0 {
		return fmt.Errorf("%w: log region not AU-aligned", ErrBadSuperblock)
	}
	if sb.Devices[0].Size < sb.LogOffset+sb.LogLength {
		return fmt.Errorf("%w: device[0] too small for log region", ErrBadSuperblock)
	}
	return nil
}

// PrimaryDeviceSize returns device[0].Size, the only device the
// allocator and bitmap builder reason about.
func (sb *Superblock) PrimaryDeviceSize() uint64 {
	return sb.Devices[0].Size
}

// ReservedPrefix is the byte range implicitly allocated by the
// superblock and log; it never appears as an extent in any log entry.
func (sb *Superblock) ReservedPrefix() uint64 {
	return sb.LogOffset + sb.LogLength
}
