package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
)

// ErrPathEscapesRoot is returned when a path would normalize outside of
// its repository root. Repository-relative paths never contain ".."
// segments.
var ErrPathEscapesRoot = errors.New("manifest: path escapes repository root")

// ToRepoPath normalizes an OS-native absolute path under root into the
// repository-relative, forward-slash form used everywhere else in the
// manifest. OS-native paths exist only at this boundary.
func ToRepoPath(root, osPath string) (string, error) {
	rel, err := filepath.Rel(root, osPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, osPath)
	}

	rel = filepath.ToSlash(rel)

	if rel == "." {
		return "", nil
	}

	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, osPath)
	}

	// HFS+ and some other local filesystems hand back NFD-decomposed
	// filenames; the cloud side's names are NFC-composed. Normalize to NFC
	// on the way in so the same file doesn't classify as two different
	// paths depending on which side observed it.
	return norm.NFC.String(rel), nil
}

// ToOSPath converts a repository-relative path back to an OS-native
// absolute path under root.
func ToOSPath(root, repoPath string) string {
	return filepath.Join(root, filepath.FromSlash(repoPath))
}

// BuildFromLocal populates an empty Manifest with a recursive directory
// walk: folders are recorded by their relative path (identity = path);
// files are recorded with size, mtime, and a freshly computed checksum.
func BuildFromLocal(ctx context.Context, root string, hasher checksum.Hasher) (*Manifest, error) {
	m := New()

	err := filepath.WalkDir(root, func(osPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := ToRepoPath(root, osPath)
		if err != nil {
			return err
		}

		if relPath == "" {
			return nil // the root itself
		}

		if d.IsDir() {
			m.PutFolder(relPath, relPath)

			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("manifest: stat %s: %w", osPath, err)
		}

		sum, err := computeFileChecksum(osPath, hasher)
		if err != nil {
			sum = ChecksumUnreadable
		}

		m.PutFile(relPath, FileInfo{
			Path:     relPath,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
			Checksum: sum,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: walking %s: %w", root, err)
	}

	m.dirty = false

	return m, nil
}

// computeFileChecksum opens osPath and hashes its contents; any I/O
// failure maps to the ChecksumUnreadable sentinel at the call site.
func computeFileChecksum(osPath string, hasher checksum.Hasher) (string, error) {
	f, err := os.Open(osPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return hasher.Compute(f)
}
