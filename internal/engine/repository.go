package engine

import (
	"context"
	"io"
	"time"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// Repository is the engine's view of one side of the sync — cloud or
// local. The processor dispatches mutations against whichever repository
// did not originate a change; observers dispatch
// RegisterChange/RegisterRemoval/RegisterMove against the repository they
// belong to.
type Repository interface {
	// Tag is the stable short string used when serializing ChangeInfo.
	Tag() manifest.RepoTag

	// Manifest returns the repository's shadow model.
	Manifest() *manifest.Manifest

	// DoesFileExist reports whether info's NewPath currently resolves on
	// this repository with a matching checksum.
	DoesFileExist(ctx context.Context, info manifest.ChangeInfo) bool

	// GetFileContentStream opens path for reading, as the source side of a
	// Created/Modified replay.
	GetFileContentStream(ctx context.Context, path string) (io.ReadCloser, error)

	// PutFile creates or overwrites path with content, as the destination
	// side of a Created/Modified replay. Parent folders are created as
	// needed.
	PutFile(ctx context.Context, path string, content io.Reader) error

	// CreateFolder creates path as a folder (parents as needed), as the
	// destination side of a folder Created replay.
	CreateFolder(ctx context.Context, path string) error

	// MoveFile renames/relocates a file from oldPath to newPath.
	MoveFile(ctx context.Context, oldPath, newPath string) error

	// MoveFolder renames/relocates a folder from oldPath to newPath.
	MoveFolder(ctx context.Context, oldPath, newPath string) error

	// RemoveFile deletes a file. Not-found is success.
	RemoveFile(ctx context.Context, path string) error

	// RemoveFolder deletes a folder (recursively). Not-found is success.
	RemoveFolder(ctx context.Context, path string) error

	// RecordSelfWrite stamps path in this repository's self-echo ledger and
	// applies ci to its own manifest, so the repository's own observer
	// later classifies the "same" event as a no-op.
	RecordSelfWrite(ci manifest.ChangeInfo)

	// RecentlyWrittenBySelf reports whether path was written by this
	// repository's own apply path within window.
	RecentlyWrittenBySelf(path string, now time.Time, window time.Duration) bool
}

// applyToManifest updates m to reflect ci having been applied, mirroring
// what RegisterChange would have recorded had the observer seen it first.
// Shared by both repository implementations' RecordSelfWrite.
func applyToManifest(m *manifest.Manifest, ci manifest.ChangeInfo) {
	switch ci.Kind {
	case manifest.Removed:
		if id, ok := m.IDByPath(ci.NewPath); ok {
			m.RemoveID(id)
		}

	case manifest.Created, manifest.Modified:
		// The repository's own write path may already have registered the
		// entry under its real id (the cloud side does, via ensureParents
		// and PutFile) — reuse that id rather than minting the path as one.
		id, ok := m.IDByPath(ci.NewPath)
		if !ok {
			id = ci.NewPath
		}

		if ci.IsFolder {
			m.PutFolder(id, ci.NewPath)

			return
		}

		m.PutFile(id, manifest.FileInfo{
			Path:     ci.NewPath,
			Checksum: ci.NewChecksum,
		})

	case manifest.Moved, manifest.Renamed, manifest.MovedAndModified:
		m.RegisterMove(ci.Source, ci.IsFolder, ci.OldPath, ci.NewPath, ci.NewChecksum)
	}
}
