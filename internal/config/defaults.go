package config

import "time"

// Default values for configuration options.
const (
	defaultCoalesceWindow       = Duration(2 * time.Second)
	defaultRecentChangesWindow  = Duration(60 * time.Second)
	defaultCloudPollInterval    = Duration(5 * time.Second)
	defaultSafetyScanInterval   = Duration(5 * time.Minute)
	defaultRestartBackoff       = Duration(30 * time.Second)
	defaultChecksumAlgorithm    = "sha256"
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
	defaultRequestTimeout       = Duration(30 * time.Second)
	defaultRetryBackoff         = Duration(10 * time.Second)
	defaultDownstreamOnlyPrefix = ""
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding, so unset fields keep sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			DownstreamOnlyPrefix: defaultDownstreamOnlyPrefix,
			CoalesceWindow:       defaultCoalesceWindow,
			RecentChangesWindow:  defaultRecentChangesWindow,
			CloudPollInterval:    defaultCloudPollInterval,
			SafetyScanInterval:   defaultSafetyScanInterval,
			RestartBackoff:       defaultRestartBackoff,
			ChecksumAlgorithm:    defaultChecksumAlgorithm,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			RetryBackoff:   defaultRetryBackoff,
		},
	}
}
