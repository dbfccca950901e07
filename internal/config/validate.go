package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrEmptySyncRoot is returned when no local sync directory was configured.
var ErrEmptySyncRoot = errors.New("config: sync.sync_root must not be empty")

// ErrEmptyWorkingDir is returned when no working directory was configured.
var ErrEmptyWorkingDir = errors.New("config: sync.working_dir must not be empty")

// Validate checks a Config for internal consistency. Called by Load after
// TOML decoding, and by callers constructing a Config programmatically
// (e.g. in tests).
func Validate(cfg *Config) error {
	if cfg.Sync.SyncRoot == "" {
		return ErrEmptySyncRoot
	}

	if cfg.Sync.WorkingDir == "" {
		return ErrEmptyWorkingDir
	}

	if cfg.Sync.DownstreamOnlyPrefix != "" {
		if err := validateDownstreamPrefix(cfg.Sync.DownstreamOnlyPrefix); err != nil {
			return err
		}
	}

	if cfg.Sync.CoalesceWindow <= 0 {
		return fmt.Errorf("config: sync.coalesce_window must be positive, got %s", cfg.Sync.CoalesceWindow)
	}

	if cfg.Sync.RecentChangesWindow <= 0 {
		return fmt.Errorf("config: sync.recent_changes_window must be positive, got %s", cfg.Sync.RecentChangesWindow)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug/info/warn/error", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format %q is not one of text/json", cfg.Logging.Format)
	}

	return nil
}

// validateDownstreamPrefix rejects a prefix that escapes the tree via
// ".." segments, the same rule applied to every repository-relative path.
func validateDownstreamPrefix(prefix string) error {
	clean := path.Clean(prefix)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("config: downstream_only_prefix %q escapes the sync root", prefix)
	}

	return nil
}
