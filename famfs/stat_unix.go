package famfs

import (
	"os"

	"golang.org/x/sys/unix"
)

type ownerInfo struct {
	uid, gid uint32
}

// statOwner extracts the uid/gid embedded in a os.FileInfo's platform
// Sys() value, used by Cp to preserve source ownership (spec §4.9).
func statOwner(fi os.FileInfo) (ownerInfo, bool) {
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return ownerInfo{}, false
	}
	return ownerInfo{uid: st.Uid, gid: st.Gid}, true
}
