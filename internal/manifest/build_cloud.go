package manifest

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/jarimakinen/gdrivesync/internal/clouddrive"
)

// cloudListFields is the field mask requested when listing folders and
// children — the same item fields the change feed asks for, so a full
// build and an incremental page describe items identically.
const cloudListFields = "nextPageToken,files(" + clouddrive.ItemFields + ")"

// shortcutTarget describes a cloud shortcut whose target is a folder,
// discovered during BuildFromCloud's first pass and recursed into during
// the third pass.
type shortcutTarget struct {
	apparentPath string // path the shortcut occupies, which its children inherit
	targetID     string
}

// BuildFromCloud populates an empty Manifest by listing the entire owned
// cloud hierarchy:
//
//  1. List all folders and folder-shortcuts; compute each folder's absolute
//     path by walking parent links; record.
//  2. List non-folder items; resolve non-folder shortcuts to their target's
//     metadata, recorded under the shortcut's own parent/name.
//  3. Recurse into each folder-shortcut's apparent path, discovering more
//     folder-shortcuts as the worklist is walked — guarded against cycles.
//
// Finally it obtains a fresh continuation cursor and clears the dirty flag.
func BuildFromCloud(ctx context.Context, svc clouddrive.Service) (*Manifest, error) {
	m := New()

	byID := make(map[string]*drive.File)
	parentPaths := make(map[string]string) // item id -> absolute path, root items resolved first

	shortcuts, err := collectFoldersAndShortcuts(ctx, svc, byID)
	if err != nil {
		return nil, err
	}

	resolveFolderPaths(byID, parentPaths)

	for id, p := range parentPaths {
		m.PutFolder(id, p)
	}

	folderShortcutTargets, err := collectFiles(ctx, svc, byID, parentPaths, m)
	if err != nil {
		return nil, err
	}

	shortcuts = append(shortcuts, folderShortcutTargets...)

	if err := recurseShortcuts(ctx, svc, m, shortcuts); err != nil {
		return nil, err
	}

	token, err := svc.GetStartPageToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: get start page token: %w", err)
	}

	m.cursor = token
	m.dirty = false

	return m, nil
}

// collectFoldersAndShortcuts runs BuildFromCloud's first pass: every
// top-level Drive query result of mimeType=folder OR shortcutDetails
// present, client-side filtered to folder targets.
func collectFoldersAndShortcuts(ctx context.Context, svc clouddrive.Service, byID map[string]*drive.File) ([]shortcutTarget, error) {
	query := fmt.Sprintf("mimeType = '%s' or mimeType = 'application/vnd.google-apps.shortcut'", clouddrive.FolderMimeType)

	var pending []*drive.File

	pageToken := ""
	for {
		list, err := svc.ListFolders(ctx, query, cloudListFields, pageToken)
		if err != nil {
			return nil, fmt.Errorf("manifest: list folders: %w", err)
		}

		for _, f := range list.Files {
			if f.ShortcutDetails != nil {
				if f.ShortcutDetails.TargetMimeType != clouddrive.FolderMimeType {
					continue // the query language can't filter on target mime-type
				}
			}

			byID[f.Id] = f
			pending = append(pending, f)
		}

		if list.NextPageToken == "" {
			break
		}

		pageToken = list.NextPageToken
	}

	var shortcuts []shortcutTarget

	for _, f := range pending {
		if f.ShortcutDetails != nil {
			shortcuts = append(shortcuts, shortcutTarget{targetID: f.ShortcutDetails.TargetId})
		}
	}

	return shortcuts, nil
}

// resolveFolderPaths computes each folder's absolute path by walking
// parent links in byID.
func resolveFolderPaths(byID map[string]*drive.File, out map[string]string) {
	var resolve func(id string) string

	memo := make(map[string]string)

	resolve = func(id string) string {
		if p, ok := memo[id]; ok {
			return p
		}

		f, ok := byID[id]
		if !ok {
			return "" // root or an unlisted ancestor: treat as the tree root
		}

		parent := ""
		if len(f.Parents) > 0 {
			parent = resolve(f.Parents[0])
		}

		var full string
		if parent == "" {
			full = f.Name
		} else {
			full = parent + "/" + f.Name
		}

		memo[id] = full

		return full
	}

	for id := range byID {
		out[id] = resolve(id)
	}
}

// collectFiles runs BuildFromCloud's second pass: list non-folder items,
// resolving non-folder shortcuts to their target's metadata while
// recording them under the shortcut's own parent and name.
func collectFiles(
	ctx context.Context, svc clouddrive.Service, byID map[string]*drive.File,
	folderPaths map[string]string, m *Manifest,
) ([]shortcutTarget, error) {
	query := fmt.Sprintf("mimeType != '%s'", clouddrive.FolderMimeType)

	var shortcutsToFolders []shortcutTarget

	pageToken := ""
	for {
		list, err := svc.ListFolders(ctx, query, cloudListFields, pageToken)
		if err != nil {
			return nil, fmt.Errorf("manifest: list files: %w", err)
		}

		for _, f := range list.Files {
			parentPath := ""
			if len(f.Parents) > 0 {
				parentPath = folderPaths[f.Parents[0]]
			}

			if f.ShortcutDetails != nil && f.ShortcutDetails.TargetMimeType == clouddrive.FolderMimeType {
				apparent := joinPath(parentPath, f.Name)
				shortcutsToFolders = append(shortcutsToFolders, shortcutTarget{
					apparentPath: apparent,
					targetID:     f.ShortcutDetails.TargetId,
				})

				continue
			}

			info, id, err := resolveFileRecord(ctx, svc, f, parentPath)
			if err != nil {
				return nil, err
			}

			m.PutFile(id, info)
		}

		if list.NextPageToken == "" {
			break
		}

		pageToken = list.NextPageToken
	}

	return shortcutsToFolders, nil
}

// resolveFileRecord returns the FileInfo to record for f, resolving a
// non-folder shortcut to its target's size/checksum/modified-time while
// keeping the shortcut's own parent and name.
func resolveFileRecord(ctx context.Context, svc clouddrive.Service, f *drive.File, parentPath string) (FileInfo, string, error) {
	if f.ShortcutDetails == nil {
		return FileInfo{
			Path:     joinPath(parentPath, f.Name),
			Size:     f.Size,
			Modified: parseDriveTime(f.ModifiedTime),
			Checksum: checksumOrUnknown(f.Md5Checksum),
		}, f.Id, nil
	}

	target, err := svc.GetFile(ctx, f.ShortcutDetails.TargetId)
	if err != nil {
		return FileInfo{}, "", fmt.Errorf("manifest: resolve shortcut target %s: %w", f.ShortcutDetails.TargetId, err)
	}

	return FileInfo{
		Path:     joinPath(parentPath, f.Name),
		Size:     target.Size,
		Modified: parseDriveTime(target.ModifiedTime),
		Checksum: checksumOrUnknown(target.Md5Checksum),
	}, f.Id, nil
}

// recurseShortcuts runs BuildFromCloud's third pass: for each folder-
// shortcut target, recursively list its children under the shortcut's
// apparent path, appending freshly discovered folder-shortcuts to the
// worklist. visited guards against a cycle among folder-shortcuts:
// a target already visited is skipped without logging, not re-enqueued.
func recurseShortcuts(ctx context.Context, svc clouddrive.Service, m *Manifest, worklist []shortcutTarget) error {
	visited := make(map[string]struct{})

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]

		if _, seen := visited[item.targetID]; seen {
			continue
		}

		visited[item.targetID] = struct{}{}

		m.PutFolder(item.targetID, item.apparentPath)

		more, err := listShortcutChildren(ctx, svc, m, item)
		if err != nil {
			return err
		}

		worklist = append(worklist, more...)
	}

	return nil
}

// listShortcutChildren lists the children of a folder-shortcut target and
// records them under the shortcut's apparent path, returning any nested
// folder-shortcuts discovered for the worklist.
func listShortcutChildren(ctx context.Context, svc clouddrive.Service, m *Manifest, item shortcutTarget) ([]shortcutTarget, error) {
	var nested []shortcutTarget

	pageToken := ""
	for {
		list, err := svc.ListChildren(ctx, item.targetID, cloudListFields, pageToken)
		if err != nil {
			return nil, fmt.Errorf("manifest: list shortcut children of %s: %w", item.targetID, err)
		}

		for _, f := range list.Files {
			childPath := joinPath(item.apparentPath, f.Name)

			switch {
			case f.MimeType == clouddrive.FolderMimeType:
				m.PutFolder(f.Id, childPath)
			case f.ShortcutDetails != nil && f.ShortcutDetails.TargetMimeType == clouddrive.FolderMimeType:
				nested = append(nested, shortcutTarget{apparentPath: childPath, targetID: f.ShortcutDetails.TargetId})
			default:
				info, id, err := resolveFileRecord(ctx, svc, f, item.apparentPath)
				if err != nil {
					return nil, err
				}

				m.PutFile(id, info)
			}
		}

		if list.NextPageToken == "" {
			break
		}

		pageToken = list.NextPageToken
	}

	return nested, nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

func checksumOrUnknown(md5 string) string {
	if md5 == "" {
		return ChecksumUnknown
	}

	return md5
}

func parseDriveTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}
