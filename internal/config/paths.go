package config

import (
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
)

// appName is the XDG application name used to derive default config/data
// directories when the user does not pass --config/--working-dir explicitly.
const appName = "gdrivesync"

// configFileName is the default config file name inside DefaultConfigDir().
const configFileName = "config.toml"

// xdgHandle is shared across the package; xdg.New panics on an unset HOME,
// so callers needing defaults should tolerate a nil return on exotic
// environments (e.g. minimal containers) and fall back to explicit flags.
var xdgHandle = xdg.New("", appName)

// DefaultConfigPath returns the platform-specific default config file path,
// e.g. ~/.config/gdrivesync/config.toml on Linux (respecting XDG_CONFIG_HOME).
func DefaultConfigPath() string {
	return filepath.Join(xdgHandle.ConfigHome(), configFileName)
}

// DefaultWorkingDir returns the platform-specific default directory for
// the manifests, change queue, and crash logs.
func DefaultWorkingDir() string {
	return xdgHandle.DataHome()
}

// DefaultCredentialsDir returns the google_drive_credentials directory
// holding the cached OAuth2 token.
func DefaultCredentialsDir() string {
	return filepath.Join(xdgHandle.DataHome(), "google_drive_credentials")
}
