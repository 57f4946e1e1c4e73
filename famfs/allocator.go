package famfs

import "github.com/arramesh42/famfs/pkg/bitmap"

// Allocate performs first-fit contiguous allocation over bm for a
// request of size bytes, rounded up to whole allocation units. It
// returns the allocated byte offset, or 0 (the sentinel for "no
// space") on exhaustion — 0 can never be a real allocation because
// BuildBitmap always marks AU 0 (the superblock) allocated (spec
// §4.7, testable property 4).
func Allocate(bm *bitmap.Bitmap, size uint64) uint64 {
	nAU := ceilDiv(size, AllocUnit)
	if nAU == 0 {
		nAU = 1
	}

	n := bm.Len()
	for i := uint64(0); i+nAU <= n; i++ {
		if bm.Test(i) {
			continue
		}
		if bm.TestRange(i, nAU) {
			bm.SetRange(i, nAU)
			return i * AllocUnit
		}
	}
	return 0
}
