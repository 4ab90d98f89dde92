// Package config loads the boot manifest that parameterizes a kernel
// instance: process table size, IPC payload size, page-cache geometry,
// and which block-device backend to boot against.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DiskBackend selects the block-device implementation C1 boots with.
type DiskBackend string

const (
	DiskBackendSD   DiskBackend = "sd"
	DiskBackendROM  DiskBackend = "rom"
	DiskBackendFile DiskBackend = "file" // host file standing in for either, for tests
)

// Config is the full set of boot-time parameters. Zero value is invalid;
// use Default() or Load() to obtain one.
type Config struct {
	// MaxProcesses bounds the process table (spec.md recommends 16, the
	// reference implementation uses 8).
	MaxProcesses int `yaml:"max_processes"`

	// FirstUserPID is the smallest pid considered a user application
	// rather than a kernel server; GPID_ALL/killall only ever touch
	// pids >= FirstUserPID.
	FirstUserPID int `yaml:"first_user_pid"`

	// IPCPayloadLen bounds the fixed rendezvous message buffer.
	IPCPayloadLen int `yaml:"ipc_payload_len"`

	// CacheSlots is the number of physical-frame cache slots backing
	// the paging device.
	CacheSlots int `yaml:"cache_slots"`

	// CoreMapFrames is the size of the core frame map.
	CoreMapFrames int `yaml:"core_map_frames"`

	// MaxSegments bounds the ELF loader's per-process segment table,
	// including the synthesized stack segment.
	MaxSegments int `yaml:"max_segments"`

	// Disk names the block-device backend. cmd/egos boot does not read
	// it: it always opens its -disk image as a flash-ROM backend.
	Disk DiskBackend `yaml:"disk"`

	// ImagePath names the backing file for the disk backend: a raw
	// SD-card image or a flash-ROM dump. cmd/egos boot does not read it;
	// the image path comes from its -disk flag.
	ImagePath string `yaml:"image_path"`

	// TracePath, if set, is where cmd/egos boot writes a timeslice trace
	// of every scheduler yield (a -trace flag takes precedence).
	TracePath string `yaml:"trace_path"`
}

// Default returns the configuration matching spec.md's recommended
// constants for the reference (Arty) platform.
func Default() Config {
	return Config{
		MaxProcesses:  8,
		FirstUserPID:  5,
		IPCPayloadLen: 256,
		CacheSlots:    28,
		CoreMapFrames: 256,
		MaxSegments:   5,
		Disk:          DiskBackendFile,
	}
}

// Load reads a YAML boot manifest, applying it on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would violate a spec.md invariant
// before the kernel ever boots.
func (c Config) Validate() error {
	if c.MaxProcesses <= 0 || c.MaxProcesses > 16 {
		return fmt.Errorf("max_processes must be in (0,16], got %d", c.MaxProcesses)
	}
	if c.FirstUserPID <= 0 || c.FirstUserPID > c.MaxProcesses {
		return fmt.Errorf("first_user_pid must be in (0,%d], got %d", c.MaxProcesses, c.FirstUserPID)
	}
	if c.IPCPayloadLen <= 0 || c.IPCPayloadLen > 4096 {
		return fmt.Errorf("ipc_payload_len out of range: %d", c.IPCPayloadLen)
	}
	if c.CacheSlots <= 0 {
		return fmt.Errorf("cache_slots must be positive, got %d", c.CacheSlots)
	}
	if c.MaxSegments <= 1 {
		return fmt.Errorf("max_segments must allow at least one program header plus the stack segment, got %d", c.MaxSegments)
	}
	switch c.Disk {
	case DiskBackendSD, DiskBackendROM, DiskBackendFile:
	default:
		return fmt.Errorf("unknown disk backend %q", c.Disk)
	}
	return nil
}
