package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"

	"github.com/fsnotify/fsnotify"
)

// testLogger returns a logger that discards output; collaborators always
// receive a real *slog.Logger, never nil.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCloudService is an in-memory stand-in for clouddrive.Service: canned
// state plus call counters, no external mocking framework.
type fakeCloudService struct {
	mu sync.Mutex

	nextID int

	files map[string]*drive.File
	blobs map[string][]byte

	startPageToken string
	changePages    []*drive.ChangeList

	listFoldersCalls    int
	listChildrenCalls   int
	getFileCalls        int
	listChangesCalls    int
	createFileCalls     int
	updateFileCalls     int
	deleteFileCalls     int
	downloadCalls       int
	getStartTokenCalls  int
}

func newFakeCloudService() *fakeCloudService {
	return &fakeCloudService{
		files:          make(map[string]*drive.File),
		blobs:          make(map[string][]byte),
		startPageToken: "start-1",
	}
}

func (f *fakeCloudService) newID() string {
	f.nextID++

	return fmt.Sprintf("fake-id-%d", f.nextID)
}

// putFolder seeds a folder directly into the fake's backing store, bypassing
// CreateFile, for building up fixture trees before BuildFromCloud runs.
func (f *fakeCloudService) putFolder(id, parentID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file := &drive.File{Id: id, Name: name, MimeType: "application/vnd.google-apps.folder"}
	if parentID != "" {
		file.Parents = []string{parentID}
	}

	f.files[id] = file
}

// putFile seeds a file directly into the fake's backing store.
func (f *fakeCloudService) putFile(id, parentID, name, md5 string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file := &drive.File{Id: id, Name: name, MimeType: "application/octet-stream", Size: int64(len(content)), Md5Checksum: md5}
	if parentID != "" {
		file.Parents = []string{parentID}
	}

	f.files[id] = file
	f.blobs[id] = append([]byte{}, content...)
}

func (f *fakeCloudService) ListFolders(ctx context.Context, query, fields, pageToken string) (*drive.FileList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listFoldersCalls++

	wantFiles := containsSubstring(query, "!=")

	var out []*drive.File

	for _, file := range f.files {
		isFolder := file.MimeType == "application/vnd.google-apps.folder"
		isShortcut := file.MimeType == "application/vnd.google-apps.shortcut"

		switch {
		case wantFiles:
			if !isFolder {
				out = append(out, file)
			}
		default:
			if isFolder || isShortcut {
				out = append(out, file)
			}
		}
	}

	return &drive.FileList{Files: out}, nil
}

func (f *fakeCloudService) ListChildren(ctx context.Context, parentID, fields, pageToken string) (*drive.FileList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listChildrenCalls++

	var out []*drive.File

	for _, file := range f.files {
		for _, p := range file.Parents {
			if p == parentID {
				out = append(out, file)
			}
		}
	}

	return &drive.FileList{Files: out}, nil
}

func (f *fakeCloudService) GetFile(ctx context.Context, id string) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getFileCalls++

	file, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("fakeCloudService: no such file %q", id)
	}

	return file, nil
}

func (f *fakeCloudService) ListChanges(ctx context.Context, pageToken, fields string, includeRemoved bool) (*drive.ChangeList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listChangesCalls++

	if len(f.changePages) == 0 {
		return &drive.ChangeList{NewStartPageToken: f.startPageToken}, nil
	}

	page := f.changePages[0]
	f.changePages = f.changePages[1:]

	return page, nil
}

func (f *fakeCloudService) GetStartPageToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getStartTokenCalls++

	return f.startPageToken, nil
}

func (f *fakeCloudService) CreateFile(ctx context.Context, parentID, name string, isFolder bool, content io.Reader) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createFileCalls++

	id := f.newID()

	mime := "application/octet-stream"
	if isFolder {
		mime = "application/vnd.google-apps.folder"
	}

	file := &drive.File{Id: id, Name: name, MimeType: mime}
	if parentID != "" {
		file.Parents = []string{parentID}
	}

	if content != nil {
		buf, err := io.ReadAll(content)
		if err != nil {
			return nil, err
		}

		file.Size = int64(len(buf))
		file.Md5Checksum = fmt.Sprintf("md5-%x", buf)
		f.blobs[id] = buf
	}

	f.files[id] = file

	return file, nil
}

func (f *fakeCloudService) UpdateFile(ctx context.Context, id string, newParentID, newName string, content io.Reader) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateFileCalls++

	file, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("fakeCloudService: no such file %q", id)
	}

	if newParentID != "" {
		file.Parents = []string{newParentID}
	}

	if newName != "" {
		file.Name = newName
	}

	if content != nil {
		buf, err := io.ReadAll(content)
		if err != nil {
			return nil, err
		}

		file.Size = int64(len(buf))
		file.Md5Checksum = fmt.Sprintf("md5-%x", buf)
		f.blobs[id] = buf
	}

	return file, nil
}

func (f *fakeCloudService) DeleteFile(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteFileCalls++

	delete(f.files, id)
	delete(f.blobs, id)

	return nil
}

func (f *fakeCloudService) Download(ctx context.Context, id string, w io.Writer) error {
	f.mu.Lock()
	blob := f.blobs[id]
	f.mu.Unlock()

	f.downloadCalls++

	_, err := w.Write(blob)

	return err
}

func containsSubstring(s, substr string) bool {
	return bytes.Contains([]byte(s), []byte(substr))
}

// fakeFsWatcher is a controllable stand-in for FsWatcher: tests push
// fsnotify.Event values onto events and assert against the Add/Remove call
// log rather than touching a real kernel watch.
type fakeFsWatcher struct {
	mu sync.Mutex

	events chan fsnotify.Event
	errs   chan error

	added   []string
	removed []string
	closed  bool
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 64),
		errs:   make(chan error, 4),
	}
}

func (w *fakeFsWatcher) Add(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.added = append(w.added, name)

	return nil
}

func (w *fakeFsWatcher) Remove(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.removed = append(w.removed, name)

	return nil
}

func (w *fakeFsWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.events)
		close(w.errs)
	}

	return nil
}

func (w *fakeFsWatcher) Events() <-chan fsnotify.Event { return w.events }
func (w *fakeFsWatcher) Errors() <-chan error          { return w.errs }
