// Package kconfig loads the kernel's boot configuration: scheduler
// shape, page pool sizing, and logging, the way cmd/warren loaded its
// cluster manifest from YAML.
package kconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/nucleus/pkg/klog"
)

// Config is the kernel's boot-time configuration. Any field left zero
// takes the documented default in Default().
type Config struct {
	// Scheduler
	PriorityLevels int           `yaml:"priorityLevels"`
	TimeQuantum    time.Duration `yaml:"timeQuantum"`

	// VM
	PhysicalPages    int `yaml:"physicalPages"`
	PageoutLowWater  int `yaml:"pageoutLowWater"`
	PageoutHighWater int `yaml:"pageoutHighWater"`

	// IPC
	DefaultQueueDepth int `yaml:"defaultQueueDepth"`

	// Logging
	LogLevel  klog.Level `yaml:"logLevel"`
	LogJSON   bool       `yaml:"logJSON"`
}

// Default returns the spec's implementation-defined defaults: at
// least 32 priority levels (spec.md §4.2), a small queue depth, and a
// modest physical page pool sized for simulation rather than a real
// machine's RAM.
func Default() Config {
	return Config{
		PriorityLevels:    32,
		TimeQuantum:       10 * time.Millisecond,
		PhysicalPages:     16384, // 64 MiB at a 4 KiB page size
		PageoutLowWater:   1024,
		PageoutHighWater:  4096,
		DefaultQueueDepth: 16,
		LogLevel:          klog.InfoLevel,
	}
}

// Load reads a YAML manifest and fills in Default() for any zero field.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	// Decode into a copy so we can tell which fields the manifest set.
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyOverrides(&cfg, parsed)
	return cfg, nil
}

func applyOverrides(dst *Config, src Config) {
	if src.PriorityLevels > 0 {
		dst.PriorityLevels = src.PriorityLevels
	}
	if src.TimeQuantum > 0 {
		dst.TimeQuantum = src.TimeQuantum
	}
	if src.PhysicalPages > 0 {
		dst.PhysicalPages = src.PhysicalPages
	}
	if src.PageoutLowWater > 0 {
		dst.PageoutLowWater = src.PageoutLowWater
	}
	if src.PageoutHighWater > 0 {
		dst.PageoutHighWater = src.PageoutHighWater
	}
	if src.DefaultQueueDepth > 0 {
		dst.DefaultQueueDepth = src.DefaultQueueDepth
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogJSON {
		dst.LogJSON = src.LogJSON
	}
}
