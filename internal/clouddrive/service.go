// Package clouddrive defines the narrow contract the sync engine needs
// from the cloud SDK transport, and a thin adapter realizing it on top of
// the real Google Drive v3 client. The transport itself — authentication,
// retries, pagination mechanics beyond what the Drive API already does for
// us — stays outside the engine; this package exists to isolate the
// engine from the SDK behind one small interface.
package clouddrive

import (
	"context"
	"io"

	"google.golang.org/api/drive/v3"
)

// Service is the cloud surface the engine consumes: item listing, single
// item metadata, the incremental change feed, and whole-stream
// create/update/delete/download.
type Service interface {
	// ListFolders lists items matching query, used to enumerate folders and
	// folder-shortcuts during the full build. The cloud query language
	// cannot filter on shortcut target mime-type, so that filter is applied
	// by the caller, client-side.
	ListFolders(ctx context.Context, query, fields, pageToken string) (*drive.FileList, error)

	// ListChildren lists the direct children of a folder, used when
	// recursing into folder-shortcut targets.
	ListChildren(ctx context.Context, parentID, fields, pageToken string) (*drive.FileList, error)

	// GetFile fetches a single item's metadata, used to resolve a
	// non-folder shortcut's target.
	GetFile(ctx context.Context, id string) (*drive.File, error)

	// ListChanges returns one page of the incremental change feed.
	ListChanges(ctx context.Context, pageToken, fields string, includeRemoved bool) (*drive.ChangeList, error)

	// GetStartPageToken obtains a fresh continuation cursor, used after a
	// full build.
	GetStartPageToken(ctx context.Context) (string, error)

	// CreateFile uploads new content, returning the created item's metadata.
	CreateFile(ctx context.Context, parentID, name string, isFolder bool, content io.Reader) (*drive.File, error)

	// UpdateFile replaces an existing item's content and/or metadata
	// (move/rename is expressed as an UpdateFile with nil content and a
	// changed Parents/Name — matching the real Drive API's PATCH semantics).
	UpdateFile(ctx context.Context, id string, newParentID, newName string, content io.Reader) (*drive.File, error)

	// DeleteFile removes an item. Not-found is treated as success.
	DeleteFile(ctx context.Context, id string) error

	// Download streams an item's whole content; there are no partial or
	// resumed transfers.
	Download(ctx context.Context, id string, w io.Writer) error
}
