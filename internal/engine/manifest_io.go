package engine

import (
	"os"
	"path/filepath"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// Fixed manifest filenames in the working directory.
const (
	cloudManifestFileName = "google_drive_manifest"
	localManifestFileName = "local_drive_manifest"
)

// saveManifestFile writes m to name inside workDir, clearing its dirty
// flag on success, and atomically installing it via a temp-file rename.
func saveManifestFile(m *manifest.Manifest, name, workDir string) error {
	path := filepath.Join(workDir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := m.Save(f); err != nil {
		f.Close()

		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// loadManifestFile reads name from workDir, returning (nil, os.ErrNotExist)
// if absent so callers can fall back to a full build.
func loadManifestFile(name, workDir string) (*manifest.Manifest, error) {
	f, err := os.Open(filepath.Join(workDir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return manifest.Load(f)
}
