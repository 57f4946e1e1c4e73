package famfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MetaFileName is one of the two reserved files under .meta/.
type MetaFileName string

const (
	MetaSuperblock MetaFileName = ".superblock"
	MetaLog        MetaFileName = ".log"
)

// MetaResolution is the result of walking upward from an interior
// path to find a famfs mount (spec §4.10).
type MetaResolution struct {
	MountPoint string
	MetaPath   string
	Size       int64
}

// ResolveMount walks upward from path until a directory containing
// .meta/<name> as a regular file is found. It is the only mechanism
// by which the library discovers "which famfs am I in?" (spec §4.10).
func ResolveMount(path string, name MetaFileName) (*MetaResolution, error) {
	real, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}
	real, err = filepath.EvalSymlinks(real)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}

	dir := real
	fi, err := os.Stat(dir)
	if err == nil && !fi.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		metaPath := filepath.Join(dir, ".meta", string(name))
		fi, err := os.Stat(metaPath)
		if err == nil && fi.Mode().IsRegular() {
			return &MetaResolution{
				MountPoint: dir,
				MetaPath:   metaPath,
				Size:       fi.Size(),
			}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return nil, fmt.Errorf("%w: %s", ErrPathNotInMount, path)
}

// MountEntry is one parsed line of /proc/mounts.
type MountEntry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    string
}

// ParseProcMounts reads and parses /proc/mounts-formatted content.
func ParseProcMounts(r *bufio.Scanner) ([]MountEntry, error) {
	var entries []MountEntry
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, MountEntry{
			Device:     fields[0],
			MountPoint: fields[1],
			FSType:     fields[2],
			Options:    fields[3],
		})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// FindFamfsMountByDevice scans /proc/mounts for a famfs mount of
// device, per spec §4.9 (mkmeta) and §4.9 (fsck's "Busy" check).
func FindFamfsMountByDevice(device string) (*MountEntry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, errors.Wrap(err, "opening /proc/mounts")
	}
	defer f.Close()

	entries, err := ParseProcMounts(bufio.NewScanner(f))
	if err != nil {
		return nil, err
	}

	for i := range entries {
		e := entries[i]
		if e.FSType == "famfs" && e.Device == device {
			return &e, nil
		}
	}
	return nil, nil
}
