package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// LocalRepository is the Repository backed by the local filesystem — the
// tree rooted at the configured sync directory.
type LocalRepository struct {
	root   string
	m      *manifest.Manifest
	hasher checksum.Hasher
	ledger *echoLedger
}

// NewLocalRepository constructs a LocalRepository over an already-populated
// manifest (via manifest.BuildFromLocal or manifest.Load).
func NewLocalRepository(root string, m *manifest.Manifest, hasher checksum.Hasher) *LocalRepository {
	return &LocalRepository{root: root, m: m, hasher: hasher, ledger: newEchoLedger()}
}

func (l *LocalRepository) Tag() manifest.RepoTag        { return manifest.RepoLocal }
func (l *LocalRepository) Manifest() *manifest.Manifest { return l.m }

func (l *LocalRepository) DoesFileExist(ctx context.Context, info manifest.ChangeInfo) bool {
	osPath := manifest.ToOSPath(l.root, info.NewPath)

	fi, err := os.Stat(osPath)
	if err != nil {
		return false
	}

	if info.IsFolder {
		return fi.IsDir()
	}

	f, err := os.Open(osPath)
	if err != nil {
		return false
	}
	defer f.Close()

	sum, err := l.hasher.Compute(f)

	return err == nil && sum == info.NewChecksum
}

func (l *LocalRepository) GetFileContentStream(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(manifest.ToOSPath(l.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewKindError(ErrKindNotFound, err)
		}

		return nil, NewKindError(ErrKindTransport, err)
	}

	return f, nil
}

func (l *LocalRepository) PutFile(ctx context.Context, path string, content io.Reader) error {
	osPath := manifest.ToOSPath(l.root, path)

	if err := os.MkdirAll(filepath.Dir(osPath), 0o755); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: creating parent dirs for %q: %w", path, err))
	}

	tmp := osPath + ".partial"

	f, err := os.Create(tmp)
	if err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: creating %q: %w", tmp, err))
	}

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmp)

		return NewKindError(ErrKindTransport, fmt.Errorf("local: writing %q: %w", path, err))
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return NewKindError(ErrKindTransport, fmt.Errorf("local: closing %q: %w", path, err))
	}

	if err := os.Rename(tmp, osPath); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: renaming %q into place: %w", path, err))
	}

	return nil
}

func (l *LocalRepository) CreateFolder(ctx context.Context, path string) error {
	if err := os.MkdirAll(manifest.ToOSPath(l.root, path), 0o755); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: mkdir %q: %w", path, err))
	}

	return nil
}

func (l *LocalRepository) MoveFile(ctx context.Context, oldPath, newPath string) error {
	return l.move(oldPath, newPath)
}

func (l *LocalRepository) MoveFolder(ctx context.Context, oldPath, newPath string) error {
	return l.move(oldPath, newPath)
}

func (l *LocalRepository) move(oldPath, newPath string) error {
	newOSPath := manifest.ToOSPath(l.root, newPath)

	if _, err := os.Stat(newOSPath); err == nil {
		return NewKindError(ErrKindPolicy, fmt.Errorf("%w: %q", ErrPolicyDuplicateDestination, newPath))
	}

	if err := os.MkdirAll(filepath.Dir(newOSPath), 0o755); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: creating parent dirs for %q: %w", newPath, err))
	}

	oldOSPath := manifest.ToOSPath(l.root, oldPath)

	if err := os.Rename(oldOSPath, newOSPath); err != nil {
		if os.IsNotExist(err) {
			return NewKindError(ErrKindNotFound, err)
		}

		return NewKindError(ErrKindTransport, fmt.Errorf("local: renaming %q -> %q: %w", oldPath, newPath, err))
	}

	return nil
}

func (l *LocalRepository) RemoveFile(ctx context.Context, path string) error {
	return l.remove(path)
}

func (l *LocalRepository) RemoveFolder(ctx context.Context, path string) error {
	return os.RemoveAll(manifest.ToOSPath(l.root, path))
}

func (l *LocalRepository) remove(path string) error {
	if err := os.Remove(manifest.ToOSPath(l.root, path)); err != nil && !os.IsNotExist(err) {
		return NewKindError(ErrKindTransport, fmt.Errorf("local: removing %q: %w", path, err))
	}

	return nil
}

func (l *LocalRepository) RecordSelfWrite(ci manifest.ChangeInfo) {
	l.ledger.record(ci.NewPath, time.Now())
	applyToManifest(l.m, ci)
}

func (l *LocalRepository) RecentlyWrittenBySelf(path string, now time.Time, window time.Duration) bool {
	return l.ledger.recentlyWritten(path, now, window)
}
