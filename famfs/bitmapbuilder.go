package famfs

import (
	"log/slog"

	"github.com/arramesh42/famfs/pkg/bitmap"
)

// BitmapStats accumulates the counters spec §4.6 requires from one
// pass over the log.
type BitmapStats struct {
	AllocErrors int
	SizeTotal   uint64 // sum of declared file sizes
	AllocTotal  uint64 // sum of AU-aligned bytes claimed, each AU once
	BitmapSize  uint64 // number of bits in the resulting bitmap
	InvalidEntries int // ACCESS or unrecognized kinds seen
}

// SpaceAmplification is alloc_total / size_total, or 0 when no bytes
// were declared. A result > 1 means extents overallocate relative to
// declared sizes (GLOSSARY).
func (s BitmapStats) SpaceAmplification() float64 {
	if s.SizeTotal == 0 {
		return 0
	}
	return float64(s.AllocTotal) / float64(s.SizeTotal)
}

// BuildBitmap is fsck's core loop (spec §4.6): a pure function of the
// log mapping and device size. It is deterministic — equal input
// yields an equal bitmap and equal counters (testable property 3).
func BuildBitmap(log *Log, deviceSize uint64, reservedPrefix uint64, logger *slog.Logger) (*bitmap.Bitmap, BitmapStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bitmap-builder")

	// Bit i covers absolute device offset [i*AU, (i+1)*AU). This lets
	// the allocator hand back i*AU directly (spec §4.7) and keeps
	// offset 0 permanently unavailable once step 2 below runs.
	n := ceilDiv(deviceSize, AllocUnit)
	bm := bitmap.New(n)
	var stats BitmapStats
	stats.BitmapSize = n

	// Step 2: the reserved prefix (superblock+log) is implicitly
	// allocated and never appears in any log entry. AU 0 holds the
	// superblock, so it is marked even when reservedPrefix is 0.
	reservedAUs := ceilDiv(reservedPrefix, AllocUnit)
	if reservedAUs == 0 {
		reservedAUs = 1
	}
	if reservedAUs > n {
		reservedAUs = n
	}
	bm.SetRange(0, reservedAUs)

	it := log.Iterate()
	for {
		entry, index, ok, err := it.Next()
		if err != nil {
			return nil, stats, err
		}
		if !ok {
			break
		}

		switch entry.Kind {
		case LogEntryMkdir:
			// consumes no space
		case LogEntryFileCreate:
			if err := entry.ValidateFileCreate(deviceSize); err != nil {
				logger.Warn("invalid FILE_CREATE entry", "index", index, "error", err)
				stats.InvalidEntries++
				continue
			}

			stats.SizeTotal += entry.Size

			for _, ext := range entry.ActiveExtents() {
				firstAU := ext.Offset / AllocUnit
				nAU := ceilDiv(ext.Length, AllocUnit)

				for au := firstAU; au < firstAU+nAU; au++ {
					if au >= n {
						stats.AllocErrors++
						continue
					}
					if bm.TestAndSet(au) {
						stats.AllocErrors++
					} else {
						stats.AllocTotal += AllocUnit
					}
				}
			}
		default:
			logger.Warn("invalid log entry", "index", index, "kind", entry.Kind)
			stats.InvalidEntries++
		}
	}

	return bm, stats, nil
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
