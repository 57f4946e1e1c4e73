package famfs

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// MkfsConfig is the optional TOML configuration file mkfs accepts,
// mirroring the teacher's appconfig.AppConfig load pattern
// (SPEC_FULL.md, "Configuration"). Zero values fall back to the
// package defaults below.
type MkfsConfig struct {
	// LogCapacity is the number of log entry slots to reserve. 0
	// means DefaultLogCapacity.
	LogCapacity uint64 `toml:"log_capacity"`
	// ExtraDevices lists additional device descriptors to record in
	// the superblock beyond device[0] (informational only; famfs v1
	// allocates solely against device[0]).
	ExtraDevices []ConfiguredDevice `toml:"extra_devices"`
}

// ConfiguredDevice is one entry of MkfsConfig.ExtraDevices.
type ConfiguredDevice struct {
	Path string `toml:"path"`
	Size uint64 `toml:"size"`
}

// DefaultLogCapacity is used when a MkfsConfig doesn't specify one.
const DefaultLogCapacity uint64 = 16384

// LoadMkfsConfig reads and parses a TOML mkfs configuration file.
func LoadMkfsConfig(path string) (*MkfsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading mkfs config %s", path)
	}

	var cfg MkfsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing mkfs config %s", path)
	}
	return &cfg, nil
}

func (c *MkfsConfig) logCapacity() uint64 {
	if c == nil || c.LogCapacity == 0 {
		return DefaultLogCapacity
	}
	return c.LogCapacity
}
