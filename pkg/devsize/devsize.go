// Package devsize resolves a character- or block-device path to its
// byte capacity by reading the one sysfs integer the kernel publishes
// for it. This is the only file-stat behavior the famfs control plane
// inspects for a raw device (spec §4.1); everything else about the
// device comes from the superblock itself.
package devsize

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Errors returned by Probe.
var (
	ErrNotADaxDevice   = fmt.Errorf("devsize: not a character or block device")
	ErrSysfsUnavailable = fmt.Errorf("devsize: sysfs size attribute unavailable")
)

// blockSectorSize is the unit /sys/class/block/<name>/size is
// expressed in, per Documentation/ABI/stable/sysfs-block.
const blockSectorSize = 512

// Probe returns the byte size of the character or block device at
// path.
func Probe(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("devsize: stat %s: %w", path, err)
	}

	mode := fi.Mode()
	switch {
	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0:
		return probeBlock(path)
	case mode&os.ModeCharDevice != 0:
		return probeChar(path, fi)
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotADaxDevice, path)
	}
}

func probeBlock(path string) (uint64, error) {
	name := strings.TrimPrefix(path, "/dev/")
	sysPath := fmt.Sprintf("/sys/class/block/%s/size", name)
	sectors, err := readSysfsUint(sysPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSysfsUnavailable, err)
	}
	return sectors * blockSectorSize, nil
}

func probeChar(path string, fi os.FileInfo) (uint64, error) {
	major, minor, err := devNumbers(fi)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNotADaxDevice, err)
	}
	sysPath := fmt.Sprintf("/sys/dev/char/%d:%d/size", major, minor)
	size, err := readSysfsUint(sysPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSysfsUnavailable, err)
	}
	return size, nil
}

func devNumbers(fi os.FileInfo) (major, minor uint32, err error) {
	sys, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("devsize: unsupported stat_t on this platform")
	}
	return unix.Major(uint64(sys.Rdev)), unix.Minor(uint64(sys.Rdev)), nil
}

func readSysfsUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
