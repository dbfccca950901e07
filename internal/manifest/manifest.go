// Package manifest implements the persistent, path-indexed shadow model of
// a repository's tree and the ChangeInfo classification rules driven off
// it. Both the cloud-side and local-side repositories own
// one *Manifest each; the engine package wires their observers to it.
package manifest

import (
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// RepoTag is the stable short string identifying a repository, used
// verbatim when serializing ChangeInfo.
type RepoTag string

// The two repositories the engine manages.
const (
	RepoCloud RepoTag = "cloud"
	RepoLocal RepoTag = "local"
)

// FileInfo is one record per file in the manifest.
type FileInfo struct {
	Path     string    // relative, forward-slash
	Size     int64     // -1 when unknown
	Modified time.Time // UTC
	Checksum string    // hex string; "-" when unknown, "<unknown>" when requested but unreadable
}

// Checksum sentinel values.
const (
	ChecksumUnknown    = "-"
	ChecksumUnreadable = "<unknown>"
)

// FolderEntry maps a stable folder identity to its current path.
type FolderEntry struct {
	ID   string
	Path string
}

// Manifest is the per-repository shadow model. All
// exported mutating methods take the owning lock; construct with New and
// never copy a live Manifest by value (deadlock.RWMutex must not be copied).
type Manifest struct {
	mu deadlock.RWMutex

	cursor string // continuation cursor; empty for the local repository

	folders map[string]string // id -> path
	files   map[string]FileInfo // id -> info
	reverse map[string]string // path -> id, over the union of files and folders

	dirty bool
}

// New returns an empty Manifest ready for population by a full scan.
func New() *Manifest {
	return &Manifest{
		folders: make(map[string]string),
		files:   make(map[string]FileInfo),
		reverse: make(map[string]string),
	}
}

// Cursor returns the continuation cursor for the cloud incremental feed.
func (m *Manifest) Cursor() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cursor
}

// SetCursor stores a new continuation cursor. The caller is responsible
// for only ever advancing it after a successful feed batch — SetCursor
// itself cannot enforce monotonicity because the cloud API's tokens are
// opaque.
func (m *Manifest) SetCursor(cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = cursor
	m.dirty = true
}

// Dirty reports whether the manifest has unsaved mutations.
func (m *Manifest) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dirty
}

// ClearDirty marks the manifest as saved. Save resets the flag itself on
// success and does not call this.
func (m *Manifest) ClearDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirty = false
}

// FileByID returns the file record for id, if present.
func (m *Manifest) FileByID(id string) (FileInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fi, ok := m.files[id]

	return fi, ok
}

// FolderByID returns the folder path for id, if present.
func (m *Manifest) FolderByID(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.folders[id]

	return p, ok
}

// IDByPath returns the id occupying path, if any (file or folder).
func (m *Manifest) IDByPath(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.reverse[path]

	return id, ok
}

// IsFolderID reports whether id is a folder in the manifest.
func (m *Manifest) IsFolderID(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.folders[id]

	return ok
}

// PutFile inserts or overwrites a file record under id, maintaining the
// reverse index. Marks the manifest dirty.
func (m *Manifest) PutFile(id string, fi FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeReverseForID(id)
	m.files[id] = fi
	m.reverse[fi.Path] = id
	m.dirty = true
}

// PutFolder inserts or overwrites a folder record under id.
func (m *Manifest) PutFolder(id, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeReverseForID(id)
	m.folders[id] = path
	m.reverse[path] = id
	m.dirty = true
}

// RemoveID deletes id from whichever map it belongs to (file xor folder),
// and from the reverse index.
func (m *Manifest) RemoveID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeReverseForID(id)
	delete(m.files, id)
	delete(m.folders, id)
	m.dirty = true
}

// removeReverseForID clears any existing reverse-index entry pointing at id.
// Must be called with mu held.
func (m *Manifest) removeReverseForID(id string) {
	if fi, ok := m.files[id]; ok {
		delete(m.reverse, fi.Path)
	}

	if p, ok := m.folders[id]; ok {
		delete(m.reverse, p)
	}
}

// Snapshot returns a deep copy of the manifest's contents for safe
// concurrent read access, e.g. by the reconciler while the owning
// repository's lock is briefly released.
func (m *Manifest) Snapshot() *Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := New()
	out.cursor = m.cursor

	for id, p := range m.folders {
		out.folders[id] = p
	}

	for id, fi := range m.files {
		out.files[id] = fi
	}

	for p, id := range m.reverse {
		out.reverse[p] = id
	}

	return out
}

// AllFiles returns a copy of the id->FileInfo map.
func (m *Manifest) AllFiles() map[string]FileInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]FileInfo, len(m.files))
	for id, fi := range m.files {
		out[id] = fi
	}

	return out
}

// AllFolders returns a copy of the id->path map.
func (m *Manifest) AllFolders() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.folders))
	for id, p := range m.folders {
		out[id] = p
	}

	return out
}

// Validate checks the manifest's structural invariants — file and folder
// entries agree with the reverse index, every path belongs to exactly one
// kind — returning a descriptive error on the first violation found. Used
// by tests and by Load after deserialization.
func (m *Manifest) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, fi := range m.files {
		if got := m.reverse[fi.Path]; got != id {
			return fmt.Errorf("manifest: file %s path %q maps to reverse[%q]=%q", id, fi.Path, fi.Path, got)
		}
	}

	for id, p := range m.folders {
		if got := m.reverse[p]; got != id {
			return fmt.Errorf("manifest: folder %s path %q maps to reverse[%q]=%q", id, p, p, got)
		}
	}

	seen := make(map[string]bool, len(m.reverse))

	for _, fi := range m.files {
		if seen[fi.Path] {
			return fmt.Errorf("manifest: path %q claimed by more than one file", fi.Path)
		}

		seen[fi.Path] = true
	}

	for _, p := range m.folders {
		if seen[p] {
			return fmt.Errorf("manifest: path %q is both a file and a folder", p)
		}

		seen[p] = true
	}

	if len(seen) != len(m.reverse) {
		return fmt.Errorf("manifest: %d paths in file/folder maps vs %d in reverse index", len(seen), len(m.reverse))
	}

	return nil
}
