package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/clouddrive"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// CloudRepository is the Repository backed by a clouddrive.Service — the
// remote tree under the authenticated user's Drive root.
type CloudRepository struct {
	svc    clouddrive.Service
	m      *manifest.Manifest
	hasher checksum.Hasher
	ledger *echoLedger
}

// NewCloudRepository constructs a CloudRepository over an already-populated
// manifest (via manifest.BuildFromCloud or manifest.Load).
func NewCloudRepository(svc clouddrive.Service, m *manifest.Manifest, hasher checksum.Hasher) *CloudRepository {
	return &CloudRepository{svc: svc, m: m, hasher: hasher, ledger: newEchoLedger()}
}

func (c *CloudRepository) Tag() manifest.RepoTag    { return manifest.RepoCloud }
func (c *CloudRepository) Manifest() *manifest.Manifest { return c.m }

func (c *CloudRepository) DoesFileExist(ctx context.Context, info manifest.ChangeInfo) bool {
	id, ok := c.m.IDByPath(info.NewPath)
	if !ok {
		return false
	}

	if info.IsFolder {
		return c.m.IsFolderID(id)
	}

	fi, ok := c.m.FileByID(id)

	return ok && fi.Checksum == info.NewChecksum
}

func (c *CloudRepository) GetFileContentStream(ctx context.Context, path string) (io.ReadCloser, error) {
	id, ok := c.m.IDByPath(path)
	if !ok {
		return nil, NewKindError(ErrKindNotFound, fmt.Errorf("cloud: no item at %q", path))
	}

	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(c.svc.Download(ctx, id, pw))
	}()

	return pr, nil
}

func (c *CloudRepository) PutFile(ctx context.Context, path string, content io.Reader) error {
	parentID, err := c.ensureParents(ctx, parentOf(path))
	if err != nil {
		return err
	}

	name := baseName(path)

	if id, ok := c.m.IDByPath(path); ok {
		if _, err := c.svc.UpdateFile(ctx, id, "", "", content); err != nil {
			return NewKindError(ErrKindTransport, fmt.Errorf("cloud: update %q: %w", path, err))
		}

		return nil
	}

	f, err := c.svc.CreateFile(ctx, parentID, name, false, content)
	if err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("cloud: create %q: %w", path, err))
	}

	c.m.PutFile(f.Id, manifest.FileInfo{Path: path, Size: f.Size, Checksum: f.Md5Checksum})

	return nil
}

func (c *CloudRepository) CreateFolder(ctx context.Context, path string) error {
	_, err := c.ensureParents(ctx, path)

	return err
}

// ensureParents walks path's components, creating any folder not already
// present in the manifest, and returns the final component's id (empty for
// the Drive root).
func (c *CloudRepository) ensureParents(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if id, ok := c.m.IDByPath(path); ok {
		return id, nil
	}

	parentID, err := c.ensureParents(ctx, parentOf(path))
	if err != nil {
		return "", err
	}

	f, err := c.svc.CreateFile(ctx, parentID, baseName(path), true, nil)
	if err != nil {
		return "", NewKindError(ErrKindTransport, fmt.Errorf("cloud: create folder %q: %w", path, err))
	}

	c.m.PutFolder(f.Id, path)

	return f.Id, nil
}

func (c *CloudRepository) MoveFile(ctx context.Context, oldPath, newPath string) error {
	return c.move(ctx, oldPath, newPath, false)
}

func (c *CloudRepository) MoveFolder(ctx context.Context, oldPath, newPath string) error {
	return c.move(ctx, oldPath, newPath, true)
}

func (c *CloudRepository) move(ctx context.Context, oldPath, newPath string, isFolder bool) error {
	id, ok := c.m.IDByPath(oldPath)
	if !ok {
		return NewKindError(ErrKindNotFound, fmt.Errorf("cloud: no item at %q", oldPath))
	}

	if _, ok := c.m.IDByPath(newPath); ok {
		return NewKindError(ErrKindPolicy, fmt.Errorf("%w: %q", ErrPolicyDuplicateDestination, newPath))
	}

	newParentID, err := c.ensureParents(ctx, parentOf(newPath))
	if err != nil {
		return err
	}

	if _, err := c.svc.UpdateFile(ctx, id, newParentID, baseName(newPath), nil); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("cloud: move %q -> %q: %w", oldPath, newPath, err))
	}

	if isFolder {
		c.m.PutFolder(id, newPath)
	} else {
		fi, _ := c.m.FileByID(id)
		fi.Path = newPath
		c.m.PutFile(id, fi)
	}

	return nil
}

func (c *CloudRepository) RemoveFile(ctx context.Context, path string) error {
	return c.remove(ctx, path)
}

func (c *CloudRepository) RemoveFolder(ctx context.Context, path string) error {
	return c.remove(ctx, path)
}

func (c *CloudRepository) remove(ctx context.Context, path string) error {
	id, ok := c.m.IDByPath(path)
	if !ok {
		return nil // not-found is success for Remove
	}

	if err := c.svc.DeleteFile(ctx, id); err != nil {
		return NewKindError(ErrKindTransport, fmt.Errorf("cloud: delete %q: %w", path, err))
	}

	c.m.RemoveID(id)

	return nil
}

func (c *CloudRepository) RecordSelfWrite(ci manifest.ChangeInfo) {
	c.ledger.record(ci.NewPath, time.Now())
	applyToManifest(c.m, ci)
}

func (c *CloudRepository) RecentlyWrittenBySelf(path string, now time.Time, window time.Duration) bool {
	return c.ledger.recentlyWritten(path, now, window)
}

func parentOf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}

	return p[:idx]
}

func baseName(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}

	return p[idx+1:]
}
