package famfs

import (
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// FsckEntryReport is one row of fsck --verbose's per-entry table
// (SPEC_FULL.md, "fsck --verbose").
type FsckEntryReport struct {
	Index       uint64
	Seqnum      uint64
	Kind        uint32
	Path        string
	ExtentCount int
	Fingerprint string
	Collision   bool
}

// FsckReport is fsck's structured result: usable as a library return
// value and printed by the CLI layer only, mirroring the teacher's
// ReconcileResult/Reconcile split (SPEC_FULL.md, domain stack table).
type FsckReport struct {
	Superblock      Superblock
	BitmapStats     BitmapStats
	Entries         []FsckEntryReport
	SpaceAmpl       float64
}

// FsckOptions configures one fsck pass.
type FsckOptions struct {
	Verbose bool
}

// FsckByDevice runs fsck against an unmounted device directly (spec
// §4.9). It fails with ErrBusy if the device currently has a famfs
// mount in /proc/mounts.
func FsckByDevice(devicePath string, opts FsckOptions, logger *slog.Logger) (*FsckReport, error) {
	mount, err := FindFamfsMountByDevice(devicePath)
	if err != nil {
		return nil, err
	}
	if mount != nil {
		return nil, fmt.Errorf("%w: %s is mounted at %s", ErrBusy, devicePath, mount.MountPoint)
	}

	sbMapping, err := MapRaw(devicePath, SuperblockSize, false)
	if err != nil {
		return nil, err
	}
	var sb Superblock
	if err := sb.UnmarshalBinary(sbMapping.Bytes()); err != nil {
		sbMapping.Close()
		return nil, err
	}
	sbMapping.Close()

	if err := sb.Validate(); err != nil {
		return nil, err
	}

	logMapping, err := MapRaw(devicePath, sb.LogOffset+sb.LogLength, false)
	if err != nil {
		return nil, err
	}
	defer logMapping.Close()

	log, err := OpenLog(logMapping.Bytes()[sb.LogOffset:])
	if err != nil {
		return nil, err
	}

	return runFsck(&sb, log, opts, logger)
}

// FsckByPath runs fsck using the .meta files of the mount containing
// path (spec §4.9).
func FsckByPath(path string, opts FsckOptions, logger *slog.Logger) (*FsckReport, error) {
	sbRes, err := ResolveMount(path, MetaSuperblock)
	if err != nil {
		return nil, err
	}
	logRes, err := ResolveMount(path, MetaLog)
	if err != nil {
		return nil, err
	}

	sbMapping, err := MapMetaFile(sbRes.MetaPath, false)
	if err != nil {
		return nil, err
	}
	var sb Superblock
	if err := sb.UnmarshalBinary(sbMapping.Bytes()); err != nil {
		sbMapping.Close()
		return nil, err
	}
	sbMapping.Close()

	if err := sb.Validate(); err != nil {
		return nil, err
	}

	logMapping, err := MapMetaFile(logRes.MetaPath, false)
	if err != nil {
		return nil, err
	}
	defer logMapping.Close()

	log, err := OpenLog(logMapping.Bytes())
	if err != nil {
		return nil, err
	}

	return runFsck(&sb, log, opts, logger)
}

func runFsck(sb *Superblock, log *Log, opts FsckOptions, logger *slog.Logger) (*FsckReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fsck")

	bm, stats, err := BuildBitmap(log, sb.PrimaryDeviceSize(), sb.ReservedPrefix(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "building bitmap")
	}
	_ = bm

	report := &FsckReport{
		Superblock:  *sb,
		BitmapStats: stats,
		SpaceAmpl:   stats.SpaceAmplification(),
	}

	if opts.Verbose {
		entries, err := collectEntryReports(log, sb.PrimaryDeviceSize(), sb.ReservedPrefix())
		if err != nil {
			return nil, err
		}
		report.Entries = entries
	}

	if stats.AllocErrors > 0 {
		logger.Warn("allocation collisions detected", "count", stats.AllocErrors)
	}

	return report, nil
}

// collectEntryReports re-walks the log to build the verbose table.
// It re-derives collision flags with the same per-AU marking the
// summary's bitmap pass uses, reserved prefix included, so the
// per-entry view and the counters can never disagree (spec §4.6's
// determinism property).
func collectEntryReports(log *Log, deviceSize, reservedPrefix uint64) ([]FsckEntryReport, error) {
	seen := make(map[uint64]bool)
	for au := uint64(0); au < ceilDiv(reservedPrefix, AllocUnit); au++ {
		seen[au] = true
	}
	var out []FsckEntryReport

	it := log.Iterate()
	for {
		entry, index, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		row := FsckEntryReport{
			Index:       index,
			Seqnum:      entry.Seqnum,
			Kind:        entry.Kind,
			Path:        entry.RelPathString(),
			ExtentCount: int(entry.ExtentCount),
		}

		if entry.Kind == LogEntryFileCreate && entry.ValidateFileCreate(deviceSize) == nil {
			row.Fingerprint = fingerprintExtents(entry.ActiveExtents())
			for _, ext := range entry.ActiveExtents() {
				first := ext.Offset / AllocUnit
				n := ceilDiv(ext.Length, AllocUnit)
				for au := first; au < first+n; au++ {
					if seen[au] {
						row.Collision = true
					}
					seen[au] = true
				}
			}
		}

		out = append(out, row)
	}

	return out, nil
}

// fingerprintExtents produces a compact base58 identifier for an
// entry's extent list, so fsck --verbose can cross-reference colliding
// entries without printing raw offsets (SPEC_FULL.md, domain stack:
// mr-tron/base58).
func fingerprintExtents(extents []Extent) string {
	h := sha256.New()
	for _, e := range extents {
		fmt.Fprintf(h, "%d:%d;", e.Offset, e.Length)
	}
	return base58.Encode(h.Sum(nil))[:12]
}
