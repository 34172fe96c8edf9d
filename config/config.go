// Package config loads the YAML configuration of the fslog tools.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/util"
)

var ErrInvalid = errors.New("config: invalid")

type DiskConfig struct {
	// Path of the image file; empty means an in-memory disk.
	Path string `yaml:"path"`
	// Blocks is the image size used by mkfs and for in-memory disks.
	Blocks uint64 `yaml:"blocks"`
	// Direct opens the image with O_DIRECT.
	Direct bool `yaml:"direct"`
	// LogBlocks is the size of the log region mkfs lays out, header included.
	LogBlocks uint64 `yaml:"log_blocks"`
	Inodes    uint64 `yaml:"inodes"`
}

type CacheConfig struct {
	Buffers uint64 `yaml:"buffers"`
}

type LogConfig struct {
	// Size caps the blocks one transaction may log.
	Size        uint64 `yaml:"size"`
	MaxOpBlocks uint64 `yaml:"max_op_blocks"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Listen is an address to serve /metrics on while a command runs.
	Listen string `yaml:"listen"`
}

type Config struct {
	Disk    DiskConfig     `yaml:"disk"`
	Cache   CacheConfig    `yaml:"cache"`
	Log     LogConfig      `yaml:"log"`
	Logging util.LogConfig `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Debug   uint64         `yaml:"debug"`
}

func Default() *Config {
	return &Config{
		Disk: DiskConfig{
			Blocks:    4096,
			LogBlocks: common.LOGSIZE + 1,
			Inodes:    200,
		},
		Cache: CacheConfig{Buffers: common.NBUF},
		Log: LogConfig{
			Size:        common.LOGSIZE,
			MaxOpBlocks: common.MAXOPBLOCKS,
		},
		Logging: util.LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the log and cache geometry before anything is mounted.
func (c *Config) Validate() error {
	if c.Log.Size == 0 || c.Log.Size > common.HDRADDRS {
		return fmt.Errorf("%w: log.size %d not in [1, %d]", ErrInvalid, c.Log.Size, common.HDRADDRS)
	}
	if c.Log.MaxOpBlocks == 0 || c.Log.MaxOpBlocks > c.Log.Size {
		return fmt.Errorf("%w: log.max_op_blocks %d not in [1, %d]",
			ErrInvalid, c.Log.MaxOpBlocks, c.Log.Size)
	}
	if c.Disk.LogBlocks < 2 {
		return fmt.Errorf("%w: disk.log_blocks %d", ErrInvalid, c.Disk.LogBlocks)
	}
	capacity := util.Min(c.Log.Size, c.Disk.LogBlocks-1)
	if c.Log.MaxOpBlocks > capacity {
		return fmt.Errorf("%w: log.max_op_blocks %d exceeds log capacity %d",
			ErrInvalid, c.Log.MaxOpBlocks, capacity)
	}
	if c.Cache.Buffers < capacity+2 {
		return fmt.Errorf("%w: cache.buffers %d below log capacity %d + 2",
			ErrInvalid, c.Cache.Buffers, capacity)
	}
	if c.Disk.Path == "" && c.Disk.Blocks == 0 {
		return fmt.Errorf("%w: in-memory disk needs disk.blocks", ErrInvalid)
	}
	return nil
}

// OpenDisk opens the configured image, creating a file of Disk.Blocks blocks
// if needed.
func (c *Config) OpenDisk() (disk.Disk, error) {
	if c.Disk.Path == "" {
		return disk.NewMemDisk(c.Disk.Blocks), nil
	}
	var d *disk.FileDisk
	var err error
	if c.Disk.Direct {
		d, err = disk.NewDirectFileDisk(c.Disk.Path, c.Disk.Blocks)
	} else {
		d, err = disk.NewFileDisk(c.Disk.Path, c.Disk.Blocks)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *Config) MountOptions() jrnl.Options {
	return jrnl.Options{
		Buffers:     c.Cache.Buffers,
		LogSize:     c.Log.Size,
		MaxOpBlocks: c.Log.MaxOpBlocks,
	}
}
