//go:build linux

// Package ioctlfs wraps the two-member famfs kernel ioctl family: NOP
// (liveness/guard check) and MAP_CREATE (bind extents to a file). The
// payload shapes are the contract (spec §6); the numeric codes are
// opaque and defined here as the sole place that needs to agree with
// the kernel driver.
package ioctlfs

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// File types accepted by MAP_CREATE. SUPERBLOCK and LOG are used only
// by mkmeta.
const (
	FileTypeSuperblock uint32 = 0
	FileTypeLog        uint32 = 1
	FileTypeReg        uint32 = 2
)

// ExtentType identifies the addressing mode of the bound extents.
// famfs has exactly one: FSDAX.
const ExtentTypeFSDAX uint32 = 0

const maxIoctlExtents = 16

// ioctl command numbers. These must match the kernel driver's UAPI
// header; famfs_fs.h reserves this ioctl magic ('f') on the 'F' type.
const (
	iocMagic   = 'f'
	nopCmd     = 1
	mapCreateCmd = 2
)

var (
	ioctlNop       = ioctlNo(nopCmd)
	ioctlMapCreate = ioctlNo(mapCreateCmd)
)

func ioctlNo(nr uintptr) uintptr {
	return (uintptr(iocMagic) << 8) | nr
}

// Extent mirrors famfs.Extent in the kernel wire format: two uint64s,
// offset then length.
type Extent struct {
	Offset uint64
	Length uint64
}

// mapCreate mirrors struct famfs_ioc_map from the kernel UAPI: a
// fixed-size header followed by an inline extent list.
type mapCreate struct {
	FileType   uint32
	Pad0       uint32
	FileSize   uint64
	ExtentType uint32
	ExtCount   uint32
	Extents    [maxIoctlExtents]Extent
}

// NOP returns nil iff fd is on a famfs mount. Replay and mkfile use it
// to guard against operating on a non-famfs file (spec §4.8, §4.9).
func NOP(fd uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlNop, 0)
	if errno != 0 {
		return fmt.Errorf("famfs: NOP ioctl: %w", errno)
	}
	return nil
}

// MapCreate irreversibly binds extents to fd, freezing its size. It is
// the only way to make a file usable (spec GLOSSARY, "MAP_CREATE").
func MapCreate(fd uintptr, fileType uint32, fileSize uint64, extents []Extent) error {
	if len(extents) == 0 || len(extents) > maxIoctlExtents {
		return fmt.Errorf("famfs: MAP_CREATE: extent count %d out of range", len(extents))
	}

	var payload mapCreate
	payload.FileType = fileType
	payload.FileSize = fileSize
	payload.ExtentType = ExtentTypeFSDAX
	payload.ExtCount = uint32(len(extents))
	copy(payload.Extents[:], extents)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlMapCreate, uintptr(unsafe.Pointer(&payload)))
	if errno != 0 {
		return fmt.Errorf("famfs: MAP_CREATE ioctl: %w", errno)
	}
	return nil
}
