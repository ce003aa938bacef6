// Package config loads and validates the recorder's configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// FileType selects the on-disk container produced by the recorder.
type FileType string

const (
	FileTypeXDF FileType = "xdf"
	FileTypeCSV FileType = "csv"
)

// TimingConfig holds the cadence/timeout knobs from spec §6.5. Zero values
// are replaced by DefaultTiming() before use. OffsetInterval, MaxHeadersWait
// and MaxFootersWait are loaded but not read by the engine: offset probes
// run every 5 s and the phase barrier uses phase.HeadersTimeout and
// phase.FootersTimeout, whatever these fields hold.
type TimingConfig struct {
	BoundaryInterval time.Duration `mapstructure:"boundary_interval" yaml:"boundary_interval"`
	OffsetInterval   time.Duration `mapstructure:"offset_interval" yaml:"offset_interval"`
	ResolveInterval  time.Duration `mapstructure:"resolve_interval" yaml:"resolve_interval"`
	ChunkInterval    time.Duration `mapstructure:"chunk_interval" yaml:"chunk_interval"`
	MaxOpenWait      time.Duration `mapstructure:"max_open_wait" yaml:"max_open_wait"`
	MaxHeadersWait   time.Duration `mapstructure:"max_headers_wait" yaml:"max_headers_wait"`
	MaxFootersWait   time.Duration `mapstructure:"max_footers_wait" yaml:"max_footers_wait"`
	MaxJoinWait      time.Duration `mapstructure:"max_join_wait" yaml:"max_join_wait"`
}

// DefaultTiming returns the defaults fixed by spec §6.5.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		BoundaryInterval: 10 * time.Second,
		OffsetInterval:   5 * time.Second,
		ResolveInterval:  5 * time.Second,
		ChunkInterval:    500 * time.Millisecond,
		MaxOpenWait:      5 * time.Second,
		MaxHeadersWait:   10 * time.Second,
		MaxFootersWait:   2 * time.Second,
		MaxJoinWait:      5 * time.Second,
	}
}

// fillDefaults replaces any zero duration with the matching default.
func (t *TimingConfig) fillDefaults() {
	d := DefaultTiming()
	if t.BoundaryInterval == 0 {
		t.BoundaryInterval = d.BoundaryInterval
	}
	if t.OffsetInterval == 0 {
		t.OffsetInterval = d.OffsetInterval
	}
	if t.ResolveInterval == 0 {
		t.ResolveInterval = d.ResolveInterval
	}
	if t.ChunkInterval == 0 {
		t.ChunkInterval = d.ChunkInterval
	}
	if t.MaxOpenWait == 0 {
		t.MaxOpenWait = d.MaxOpenWait
	}
	if t.MaxHeadersWait == 0 {
		t.MaxHeadersWait = d.MaxHeadersWait
	}
	if t.MaxFootersWait == 0 {
		t.MaxFootersWait = d.MaxFootersWait
	}
	if t.MaxJoinWait == 0 {
		t.MaxJoinWait = d.MaxJoinWait
	}
}

// RecorderConfig is the top-level configuration for a recording run.
type RecorderConfig struct {
	OutputPath string   `mapstructure:"output_path" yaml:"output_path"`
	FileType   FileType `mapstructure:"file_type" yaml:"file_type"`

	// InitialQueries are resolved once at startup; every match becomes a
	// phase-locked StreamRecorder (spec §4.7).
	InitialQueries []string `mapstructure:"initial_queries" yaml:"initial_queries"`

	// WatchQueries are handed to one Resolver each (spec §4.4); matches are
	// late-joining, non-phase-locked streams.
	WatchQueries []string `mapstructure:"watch_queries" yaml:"watch_queries"`

	// SyncOptions is keyed by "name (hostname)" (spec §4.2 "Post-processing
	// selection"); true enables post-processing clock sync for that stream.
	SyncOptions map[string]bool `mapstructure:"sync_options" yaml:"sync_options"`
	DefaultSync bool            `mapstructure:"default_sync" yaml:"default_sync"`

	CollectOffsets            bool `mapstructure:"collect_offsets" yaml:"collect_offsets"`
	InjectRecordingTimestamps bool `mapstructure:"inject_recording_timestamps" yaml:"inject_recording_timestamps"`

	Timing TimingConfig `mapstructure:"timing" yaml:"timing"`
}

// Default returns a RecorderConfig with the defaults fixed by spec §6.5 and
// no streams configured; callers still need OutputPath and at least one
// query.
func Default() RecorderConfig {
	return RecorderConfig{
		FileType: FileTypeXDF,
		Timing:   DefaultTiming(),
	}
}

// Load reads a YAML configuration file at path and returns a validated
// RecorderConfig. Environment variables prefixed XDFREC_ override file
// values, mirroring the teacher's JAMCAPTURE_ prefix convention.
func Load(path string) (*RecorderConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("XDFREC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	cfg := Default()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Timing.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the invariants required before a RecordingEngine can be
// constructed: an output path, a recognized file type, and at least one
// stream source (initial query or watch query).
func (c *RecorderConfig) Validate() error {
	if strings.TrimSpace(c.OutputPath) == "" {
		return fmt.Errorf("output_path is required")
	}

	switch c.FileType {
	case FileTypeXDF, FileTypeCSV:
	case "":
		c.FileType = FileTypeXDF
	default:
		return fmt.Errorf("file_type must be '%s' or '%s', got: %s", FileTypeXDF, FileTypeCSV, c.FileType)
	}

	if len(c.InitialQueries) == 0 && len(c.WatchQueries) == 0 {
		return fmt.Errorf("at least one initial_queries or watch_queries entry is required")
	}

	if c.Timing.ChunkInterval <= 0 {
		return fmt.Errorf("timing.chunk_interval must be > 0")
	}

	return nil
}

// SyncFlag returns whether post-processing clock sync should be requested
// for a stream identified by name+hostname, per spec §4.2 "Post-processing
// selection": an explicit entry wins, otherwise DefaultSync applies.
func (c *RecorderConfig) SyncFlag(name, hostname string) bool {
	key := fmt.Sprintf("%s (%s)", name, hostname)
	if flag, ok := c.SyncOptions[key]; ok {
		return flag
	}
	return c.DefaultSync
}
