//go:build !linux

// Meet the package interface on non-Linux so the rest of the module
// still builds; famfs is a Linux/DAX-only control plane.
package ioctlfs

import "fmt"

const (
	FileTypeSuperblock uint32 = 0
	FileTypeLog        uint32 = 1
	FileTypeReg        uint32 = 2
)

const ExtentTypeFSDAX uint32 = 0

// Extent mirrors famfs.Extent in the kernel wire format.
type Extent struct {
	Offset uint64
	Length uint64
}

var errUnsupported = fmt.Errorf("famfs: ioctlfs: unsupported on this platform")

func NOP(fd uintptr) error {
	return errUnsupported
}

func MapCreate(fd uintptr, fileType uint32, fileSize uint64, extents []Extent) error {
	return errUnsupported
}
