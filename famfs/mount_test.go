package famfs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveMountWalksUpward(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	r.NoError(os.MkdirAll(filepath.Join(root, ".meta"), 0o755))
	r.NoError(os.WriteFile(filepath.Join(root, ".meta", ".log"), make([]byte, 32), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	r.NoError(os.MkdirAll(nested, 0o755))

	res, err := ResolveMount(nested, MetaLog)
	r.NoError(err)

	realRoot, err := filepath.EvalSymlinks(root)
	r.NoError(err)
	r.Equal(realRoot, res.MountPoint)
	r.Equal(int64(32), res.Size)
}

func TestResolveMountNotFound(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	_, err := ResolveMount(dir, MetaLog)
	r.ErrorIs(err, ErrPathNotInMount)
}

func TestResolveMountIgnoresDirectoryNamedLog(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	r.NoError(os.MkdirAll(filepath.Join(root, ".meta", ".log"), 0o755))

	_, err := ResolveMount(root, MetaLog)
	r.ErrorIs(err, ErrPathNotInMount)
}

func TestParseProcMounts(t *testing.T) {
	r := require.New(t)

	data := "" +
		"/dev/dax0.0 /mnt/famfs famfs rw,relatime 0 0\n" +
		"tmpfs /tmp tmpfs rw 0 0\n" +
		"\n"

	entries, err := ParseProcMounts(bufio.NewScanner(strings.NewReader(data)))
	r.NoError(err)
	r.Len(entries, 2)
	r.Equal("/dev/dax0.0", entries[0].Device)
	r.Equal("/mnt/famfs", entries[0].MountPoint)
	r.Equal("famfs", entries[0].FSType)
}
