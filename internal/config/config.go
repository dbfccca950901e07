// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for gdrivesync.
package config

import "time"

// Duration is a time.Duration that TOML-decodes from a string like "2s" or
// "5m". BurntSushi/toml has no native duration handling; the text form keeps
// config files readable instead of forcing raw nanosecond integers.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

// Std returns the value as a plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the value the way time.Duration does, so validation errors
// and config dumps read naturally.
func (d Duration) String() string { return time.Duration(d).String() }

// Config is the top-level configuration structure for a single
// local-root ↔ cloud-drive pair.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// SyncConfig controls the sync engine's core timing and policy knobs.
type SyncConfig struct {
	// SyncRoot is the absolute path to the local directory mirrored against
	// the cloud drive root.
	SyncRoot string `toml:"sync_root"`

	// WorkingDir holds the manifests, the persisted change queue, and crash
	// logs.
	WorkingDir string `toml:"working_dir"`

	// DownstreamOnlyPrefix is the engine's sole policy decision: paths
	// under it flow cloud-to-local only, even during reconciliation.
	DownstreamOnlyPrefix string `toml:"downstream_only_prefix"`

	// CoalesceWindow is the local-observer debounce window before a raw
	// filesystem event is eligible for processing.
	CoalesceWindow Duration `toml:"coalesce_window"`

	// RecentChangesWindow is the echo-suppression retention horizon in the
	// change processor.
	RecentChangesWindow Duration `toml:"recent_changes_window"`

	// CloudPollInterval is the sleep between drained batches of cloud
	// change-feed pages.
	CloudPollInterval Duration `toml:"cloud_poll_interval"`

	// SafetyScanInterval is the period of the local backstop full rescan.
	SafetyScanInterval Duration `toml:"safety_scan_interval"`

	// RestartBackoff is how long the supervisor waits before restarting a
	// crashed processor task.
	RestartBackoff Duration `toml:"restart_backoff"`

	// ChecksumAlgorithm names the content-hash primitive; purely
	// informational: the engine is always given checksum.NewSHA256,
	// whatever this says.
	ChecksumAlgorithm string `toml:"checksum_algorithm"`
}

// LoggingConfig controls the diagnostic stream, the sole user surface
// during steady-state operation.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// NetworkConfig holds HTTP client settings for the cloud collaborator. They
// are loaded and defaulted but not read by the engine or the cloud adapter.
type NetworkConfig struct {
	RequestTimeout Duration `toml:"request_timeout"`
	RetryBackoff   Duration `toml:"retry_backoff"`
}
