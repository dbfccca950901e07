package manifest

import "time"

// Observation is the raw-event shape RegisterChange classifies against the
// manifest. For the cloud repository, ID is the Drive API's opaque
// item/folder id (stable across moves and renames). For the local
// repository, ID is the path itself — the local side has no id of its own,
// which is exactly why local moves cannot be classified through this path
// and instead go through RegisterMove after the observer re-pairs a
// Created/Removed couple.
type Observation struct {
	ID       string
	Path     string
	IsFolder bool
	Size     int64
	Modified time.Time
	Checksum string
}

// RegisterChange dispatches on the observation shape and returns the
// resulting ChangeInfo, or (ChangeInfo{}, false) if the event is a no-op.
// source identifies which repository this manifest belongs to, stamped
// onto the returned ChangeInfo.
func (m *Manifest) RegisterChange(source RepoTag, obs Observation) (ChangeInfo, bool) {
	if obs.IsFolder {
		return m.registerFolderChange(source, obs)
	}

	return m.registerFileChange(source, obs)
}

func (m *Manifest) registerFileChange(source RepoTag, obs Observation) (ChangeInfo, bool) {
	existing, known := m.FileByID(obs.ID)

	newInfo := FileInfo{Path: obs.Path, Size: obs.Size, Modified: obs.Modified, Checksum: obs.Checksum}

	if !known {
		m.PutFile(obs.ID, newInfo)

		return ChangeInfo{
			Source:      source,
			Kind:        Created,
			NewPath:     obs.Path,
			IsFolder:    false,
			NewChecksum: obs.Checksum,
		}, true
	}

	pathChanged := existing.Path != obs.Path
	contentChanged := existing.Checksum != obs.Checksum || existing.Size != obs.Size

	m.PutFile(obs.ID, newInfo)

	switch {
	case !pathChanged && !contentChanged:
		return ChangeInfo{}, false

	case !pathChanged && contentChanged:
		return ChangeInfo{
			Source:      source,
			Kind:        Modified,
			NewPath:     obs.Path,
			IsFolder:    false,
			NewChecksum: obs.Checksum,
			OldChecksum: existing.Checksum,
		}, true

	case pathChanged && !contentChanged:
		kind := Moved
		if isRenameWithinSameParent(existing.Path, obs.Path) {
			kind = Renamed
		}

		return ChangeInfo{
			Source:      source,
			Kind:        kind,
			NewPath:     obs.Path,
			OldPath:     existing.Path,
			IsFolder:    false,
			NewChecksum: obs.Checksum,
			OldChecksum: existing.Checksum,
		}, true

	default: // pathChanged && contentChanged
		return ChangeInfo{
			Source:      source,
			Kind:        MovedAndModified,
			NewPath:     obs.Path,
			OldPath:     existing.Path,
			IsFolder:    false,
			NewChecksum: obs.Checksum,
			OldChecksum: existing.Checksum,
		}, true
	}
}

func (m *Manifest) registerFolderChange(source RepoTag, obs Observation) (ChangeInfo, bool) {
	existingPath, known := m.FolderByID(obs.ID)

	if !known {
		m.PutFolder(obs.ID, obs.Path)

		return ChangeInfo{
			Source:   source,
			Kind:     Created,
			NewPath:  obs.Path,
			IsFolder: true,
		}, true
	}

	if existingPath == obs.Path {
		return ChangeInfo{}, false
	}

	kind := Moved
	if isRenameWithinSameParent(existingPath, obs.Path) {
		kind = Renamed
	}

	m.PutFolder(obs.ID, obs.Path)

	return ChangeInfo{
		Source:   source,
		Kind:     kind,
		NewPath:  obs.Path,
		OldPath:  existingPath,
		IsFolder: true,
	}, true
}

// RegisterRemoval handles removal or trashing of a known id, producing a
// Removed carrying the last recorded path and checksum. Returns
// (ChangeInfo{}, false) if id is not known — a removal of something the
// manifest never saw is not an observable change.
func (m *Manifest) RegisterRemoval(source RepoTag, id string) (ChangeInfo, bool) {
	if m.IsFolderID(id) {
		p, _ := m.FolderByID(id)
		m.RemoveID(id)

		return ChangeInfo{
			Source:   source,
			Kind:     Removed,
			NewPath:  p,
			IsFolder: true,
		}, true
	}

	fi, known := m.FileByID(id)
	if !known {
		return ChangeInfo{}, false
	}

	m.RemoveID(id)

	return ChangeInfo{
		Source:      source,
		Kind:        Removed,
		NewPath:     fi.Path,
		IsFolder:    false,
		NewChecksum: fi.Checksum,
	}, true
}

// RegisterMove injects a synthetic move into the shadow model, updating
// path indices directly rather than going through the id-based
// classification. This is how the local observer applies its
// Created/Removed move re-synthesis, since the local filesystem has no id
// stable across a rename.
func (m *Manifest) RegisterMove(source RepoTag, isFolder bool, from, to string, checksum string) ChangeInfo {
	id, ok := m.IDByPath(from)
	if !ok {
		// Nothing known at the source path. If the destination is already
		// occupied the move has been recorded under its real id (the
		// repository's own write path does this before the echo arrives) —
		// leave that entry alone instead of clobbering it with a synthetic
		// one keyed by the path.
		if _, occupied := m.IDByPath(to); occupied {
			return ChangeInfo{Source: source, Kind: Created, NewPath: to, IsFolder: isFolder, NewChecksum: checksum}
		}

		if isFolder {
			m.PutFolder(to, to)
		} else {
			m.PutFile(to, FileInfo{Path: to, Checksum: checksum})
		}

		return ChangeInfo{Source: source, Kind: Created, NewPath: to, IsFolder: isFolder, NewChecksum: checksum}
	}

	kind := Moved
	if isRenameWithinSameParent(from, to) {
		kind = Renamed
	}

	if isFolder {
		m.PutFolder(id, to)
	} else {
		fi, _ := m.FileByID(id)
		fi.Path = to
		m.PutFile(id, fi)
	}

	return ChangeInfo{
		Source:   source,
		Kind:     kind,
		NewPath:  to,
		OldPath:  from,
		IsFolder: isFolder,
	}
}

// isRenameWithinSameParent distinguishes Renamed from Moved: a rename
// keeps the entry in the same parent directory.
func isRenameWithinSameParent(oldPath, newPath string) bool {
	return parentOf(oldPath) == parentOf(newPath)
}

// parentOf returns the forward-slash parent directory of a repository-
// relative path, or "" for a root-level entry.
func parentOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}

	return ""
}
