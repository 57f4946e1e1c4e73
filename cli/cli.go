// Package cli wires the famfs namespace operations to a command-line
// surface, modeled on the teacher's lsvd CLI (mitchellh/cli dispatch,
// lab47/cleo struct-tag flag inference).
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lab47/cleo"
	"github.com/mitchellh/cli"
	"golang.org/x/sys/unix"

	"github.com/arramesh42/famfs/famfs"
)

// CLI dispatches famfs's nine commands (spec §6, "CLI surface"):
// mkfs, mount, mkmeta, logplay, fsck, creat, cp, verify, mkdir.
type CLI struct {
	log *slog.Logger
	lc  *cli.CLI
}

// Global holds flags shared by every subcommand.
type Global struct {
	Debug bool `short:"D" long:"debug" description:"has no effect; debug logging is enabled by the FAMFS_DEBUG environment variable"`
}

// NewCLI builds the command table for args (typically os.Args[1:]).
func NewCLI(log *slog.Logger, args []string) (*CLI, error) {
	c := &CLI{
		log: log,
		lc:  cli.NewCLI("famfs", "0.1.0"),
	}
	c.lc.Args = args

	if err := c.setupCommands(); err != nil {
		return nil, err
	}
	return c, nil
}

// Run executes the parsed subcommand and returns the process exit code.
func (c *CLI) Run() (int, error) {
	return c.lc.Run()
}

func (c *CLI) setupCommands() error {
	c.lc.Commands = map[string]cli.CommandFactory{
		"mkfs": func() (cli.Command, error) {
			return cleo.Infer("mkfs", "format a device as famfs", c.mkfs), nil
		},
		"mount": func() (cli.Command, error) {
			return cleo.Infer("mount", "mount a famfs device and replay its log", c.mount), nil
		},
		"mkmeta": func() (cli.Command, error) {
			return cleo.Infer("mkmeta", "bind .meta/.superblock and .meta/.log under a famfs mount", c.mkmeta), nil
		},
		"logplay": func() (cli.Command, error) {
			return cleo.Infer("logplay", "replay a famfs log against its mount point", c.logplay), nil
		},
		"fsck": func() (cli.Command, error) {
			return cleo.Infer("fsck", "check a famfs device or mount for allocation errors", c.fsck), nil
		},
		"creat": func() (cli.Command, error) {
			return cleo.Infer("creat", "create and allocate a new famfs file", c.creat), nil
		},
		"cp": func() (cli.Command, error) {
			return cleo.Infer("cp", "copy a file into a famfs mount", c.cp), nil
		},
		"verify": func() (cli.Command, error) {
			return cleo.Infer("verify", "verify a famfs file's seeded content", c.verify), nil
		},
		"mkdir": func() (cli.Command, error) {
			return cleo.Infer("mkdir", "create a directory in a famfs mount", c.mkdir), nil
		},
	}
	return nil
}

func (c *CLI) mkfs(ctx context.Context, opts struct {
	Global
	Device      string `short:"d" long:"device" description:"device path to format"`
	Config      string `short:"c" long:"config" description:"optional mkfs.toml configuration path"`
	LogCapacity uint64 `long:"log-capacity" description:"log entry capacity (0 = default)" default:"0"`
}) error {
	var cfg *famfs.MkfsConfig
	if opts.Config != "" {
		loaded, err := famfs.LoadMkfsConfig(opts.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = &famfs.MkfsConfig{LogCapacity: opts.LogCapacity}
	}

	sb, err := famfs.Mkfs(opts.Device, cfg, c.log)
	if err != nil {
		return err
	}

	fmt.Printf("formatted %s: log_offset=%d log_length=%d\n", opts.Device, sb.LogOffset, sb.LogLength)
	return nil
}

func (c *CLI) mount(ctx context.Context, opts struct {
	Global
	Device     string `short:"d" long:"device" description:"device to mount"`
	MountPoint string `short:"m" long:"mountpoint" description:"mount point directory"`
	DryRun     bool   `long:"dry-run" description:"skip the mount(2) syscall, replay only"`
}) error {
	if !opts.DryRun {
		if err := unix.Mount(opts.Device, opts.MountPoint, "famfs", 0, ""); err != nil {
			return fmt.Errorf("mounting %s at %s: %w", opts.Device, opts.MountPoint, err)
		}
	}

	sbMapping, err := famfs.MapRaw(opts.Device, famfs.SuperblockSize, false)
	if err != nil {
		return err
	}
	var sb famfs.Superblock
	if err := sb.UnmarshalBinary(sbMapping.Bytes()); err != nil {
		sbMapping.Close()
		return err
	}
	sbMapping.Close()
	if err := sb.Validate(); err != nil {
		return err
	}

	logMapping, err := famfs.MapRaw(opts.Device, sb.LogOffset+sb.LogLength, false)
	if err != nil {
		return err
	}
	defer logMapping.Close()

	log, err := famfs.OpenLog(logMapping.Bytes()[sb.LogOffset:])
	if err != nil {
		return err
	}

	stats, err := famfs.Replay(log, opts.MountPoint, famfs.ReplayOptions{}, c.log)
	if err != nil {
		return err
	}

	fmt.Printf("mounted %s at %s: %d files, %d dirs, %d skipped, %d invalid\n",
		opts.Device, opts.MountPoint, stats.FilesCreated, stats.DirsCreated, stats.Skipped, stats.Invalid)
	return nil
}

func (c *CLI) mkmeta(ctx context.Context, opts struct {
	Global
	Device string `short:"d" long:"device" description:"mounted device to bind .meta files for"`
}) error {
	return famfs.Mkmeta(opts.Device, c.log)
}

func (c *CLI) logplay(ctx context.Context, opts struct {
	Global
	MountPoint string `short:"m" long:"mountpoint" description:"famfs mount point"`
	DryRun     bool   `long:"dry-run" description:"validate without touching the kernel"`
	Shadow     string `long:"shadow" description:"reconstruct into this directory instead of the mount"`
}) error {
	res, err := famfs.ResolveMount(opts.MountPoint, famfs.MetaLog)
	if err != nil {
		return err
	}

	logMapping, err := famfs.MapMetaFile(res.MetaPath, false)
	if err != nil {
		return err
	}
	defer logMapping.Close()

	log, err := famfs.OpenLog(logMapping.Bytes())
	if err != nil {
		return err
	}

	stats, err := famfs.Replay(log, res.MountPoint, famfs.ReplayOptions{
		DryRun:    opts.DryRun,
		ShadowDir: opts.Shadow,
	}, c.log)
	if err != nil {
		return err
	}

	fmt.Printf("replayed: %d files, %d dirs, %d skipped, %d invalid\n",
		stats.FilesCreated, stats.DirsCreated, stats.Skipped, stats.Invalid)
	return nil
}

func (c *CLI) fsck(ctx context.Context, opts struct {
	Global
	Device  string `short:"d" long:"device" description:"unmounted device to check"`
	Path    string `short:"p" long:"path" description:"path inside a mount to check instead of a device"`
	Verbose bool   `short:"v" long:"verbose" description:"print a per-entry report"`
}) error {
	var (
		report *famfs.FsckReport
		err    error
	)

	switch {
	case opts.Device != "":
		report, err = famfs.FsckByDevice(opts.Device, famfs.FsckOptions{Verbose: opts.Verbose}, c.log)
	case opts.Path != "":
		report, err = famfs.FsckByPath(opts.Path, famfs.FsckOptions{Verbose: opts.Verbose}, c.log)
	default:
		return fmt.Errorf("fsck: one of --device or --path is required")
	}
	if err != nil {
		return err
	}

	fmt.Printf("alloc_errors=%d space_amplification=%.4f\n", report.BitmapStats.AllocErrors, report.SpaceAmpl)
	if opts.Verbose {
		for _, e := range report.Entries {
			fmt.Printf("  [%d] seq=%d kind=%d path=%q extents=%d fingerprint=%s collision=%v\n",
				e.Index, e.Seqnum, e.Kind, e.Path, e.ExtentCount, e.Fingerprint, e.Collision)
		}
	}

	if report.BitmapStats.AllocErrors > 0 {
		os.Exit(report.BitmapStats.AllocErrors)
	}
	return nil
}

func (c *CLI) creat(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path of the new file"`
	Size uint64 `short:"s" long:"size" description:"file size in bytes"`
	Mode uint32 `long:"mode" description:"file mode" default:"420"`
	Uid  uint32 `long:"uid" description:"owning uid" default:"0"`
	Gid  uint32 `long:"gid" description:"owning gid" default:"0"`
	Seed int64  `long:"seed" description:"fill with deterministic PRNG content keyed by seed" default:"0"`
	HasSeed bool `long:"with-seed" description:"enable the --seed fill"`
}) error {
	mkOpts := famfs.MkfileOptions{}
	if opts.HasSeed {
		seed := opts.Seed
		mkOpts.Seed = &seed
	}
	return famfs.Mkfile(opts.Path, opts.Size, opts.Mode, opts.Uid, opts.Gid, mkOpts, c.log)
}

func (c *CLI) cp(ctx context.Context, opts struct {
	Global
	Src string `short:"s" long:"src" description:"source path"`
	Dst string `short:"d" long:"dst" description:"destination path inside a famfs mount"`
}) error {
	return famfs.Cp(opts.Src, opts.Dst, c.log)
}

func (c *CLI) verify(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"file to verify"`
	Seed int64  `long:"seed" description:"PRNG seed the file was written with"`
	Size uint64 `short:"s" long:"size" description:"expected content length"`
}) error {
	offset, err := famfs.Verify(opts.Path, opts.Seed, opts.Size)
	if err != nil {
		return err
	}
	if offset >= 0 {
		return fmt.Errorf("verify failed at offset %d", offset)
	}
	fmt.Println("verify: ok")
	return nil
}

func (c *CLI) mkdir(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"directory to create"`
	Mode uint32 `long:"mode" description:"directory mode" default:"493"`
	Uid  uint32 `long:"uid" description:"owning uid" default:"0"`
	Gid  uint32 `long:"gid" description:"owning gid" default:"0"`
}) error {
	return famfs.Mkdir(opts.Path, opts.Mode, opts.Uid, opts.Gid, c.log)
}
