package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

func TestProcessor_QueueChangeSplitsMovedAndModified(t *testing.T) {
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(newFakeCloudService(), manifest.New(), hasher)
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), hasher)
	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	p.QueueChange(manifest.ChangeInfo{
		Source: manifest.RepoLocal, Kind: manifest.MovedAndModified,
		OldPath: "old.txt", NewPath: "new.txt", OldChecksum: "old-sum", NewChecksum: "new-sum",
	})

	require.Len(t, p.queue.items, 2)
	assert.Equal(t, manifest.Created, p.queue.items[0].Kind)
	assert.Equal(t, "new.txt", p.queue.items[0].NewPath)
	assert.Equal(t, "new-sum", p.queue.items[0].NewChecksum)

	assert.Equal(t, manifest.Removed, p.queue.items[1].Kind)
	assert.Equal(t, "old.txt", p.queue.items[1].NewPath)
	assert.Equal(t, "old-sum", p.queue.items[1].NewChecksum)
}

// TestProcessor_PersistedQueueSurvivesRestart exercises the crash/reload
// scenario: a processor that queued a change (and so persisted it to
// workDir/changes) but never ran Run to drain it, followed by a fresh
// Processor instance over the same workDir picking the pending entry back
// up via LoadQueue, as if the prior process had crashed.
func TestProcessor_PersistedQueueSurvivesRestart(t *testing.T) {
	workDir := t.TempDir()
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(newFakeCloudService(), manifest.New(), hasher)
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), hasher)

	first := NewProcessor(workDir, []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))
	first.QueueChange(manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: "a.txt", NewChecksum: "sum"})

	second := NewProcessor(workDir, []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))
	require.NoError(t, second.LoadQueue())

	require.Len(t, second.queue.items, 1)
	assert.Equal(t, "a.txt", second.queue.items[0].NewPath)
}

func TestProcessor_QueueChangeSuppressesRecentlyProcessedEqual(t *testing.T) {
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(newFakeCloudService(), manifest.New(), hasher)
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), hasher)
	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	ci := manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: "a.txt", NewChecksum: "sum"}
	p.recent.append(ci, time.Now())

	// The same logical event surfacing from the other side must not
	// re-enqueue within the window.
	p.QueueChange(manifest.ChangeInfo{Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: "a.txt", NewChecksum: "sum"})
	assert.True(t, p.queue.empty())

	p.QueueChange(manifest.ChangeInfo{Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: "b.txt", NewChecksum: "sum"})
	assert.Len(t, p.queue.items, 1)
}

func TestProcessor_RunAppliesCloudCreatedToLocalAndRecordsSelfWrite(t *testing.T) {
	svc := newFakeCloudService()
	svc.putFile("f1", "", "report.txt", "md5sum", []byte("hello"))

	cloudRepo := NewCloudRepository(svc, manifest.New(), checksum.NewSHA256())
	cloudRepo.Manifest().PutFile("f1", manifest.FileInfo{Path: "report.txt", Checksum: "md5sum"})

	localRoot := t.TempDir()
	localRepo := NewLocalRepository(localRoot, manifest.New(), checksum.NewSHA256())

	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	p.QueueChange(manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: "report.txt", NewChecksum: "md5sum"})

	require.NoError(t, p.AwaitIdle(context.Background()))

	p.Stop()
	require.NoError(t, <-runErr)

	got, err := os.ReadFile(filepath.Join(localRoot, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	assert.True(t, localRepo.RecentlyWrittenBySelf("report.txt", time.Now(), 60*time.Second))
}

func TestProcessor_ApplyDispatchesFolderCreate(t *testing.T) {
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(newFakeCloudService(), manifest.New(), hasher)
	localRoot := t.TempDir()
	localRepo := NewLocalRepository(localRoot, manifest.New(), hasher)
	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	p.apply(context.Background(), manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: "docs", IsFolder: true})

	info, err := os.Stat(filepath.Join(localRoot, "docs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// A folder replay against the cloud side registers the folder under its
// real Drive id inside CreateFolder/ensureParents; the RecordSelfWrite that
// follows in apply must not overwrite that entry with one keyed by the path
// string, or the next child create passes a bogus parent id to the API.
func TestProcessor_ApplyFolderCreateToCloudKeepsRealDriveID(t *testing.T) {
	svc := newFakeCloudService()
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(svc, manifest.New(), hasher)
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), hasher)
	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	p.apply(context.Background(), manifest.ChangeInfo{Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: "docs", IsFolder: true})

	require.NoError(t, cloudRepo.Manifest().Validate())

	id, ok := cloudRepo.Manifest().IDByPath("docs")
	require.True(t, ok)
	assert.NotEqual(t, "docs", id, "folder must stay registered under the Drive-assigned id")
	assert.True(t, cloudRepo.Manifest().IsFolderID(id))

	p.apply(context.Background(), manifest.ChangeInfo{Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: "docs/sub", IsFolder: true})

	require.NoError(t, cloudRepo.Manifest().Validate())

	_, ok = cloudRepo.Manifest().IDByPath("docs/sub")
	assert.True(t, ok)
	assert.Len(t, cloudRepo.Manifest().AllFolders(), 2)
}

func TestProcessor_ApplyFolderMoveToCloudKeepsRealDriveID(t *testing.T) {
	svc := newFakeCloudService()
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(svc, manifest.New(), hasher)
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), hasher)
	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	p.apply(context.Background(), manifest.ChangeInfo{Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: "docs", IsFolder: true})

	id, ok := cloudRepo.Manifest().IDByPath("docs")
	require.True(t, ok)

	p.apply(context.Background(), manifest.ChangeInfo{
		Source: manifest.RepoLocal, Kind: manifest.Moved,
		OldPath: "docs", NewPath: "archive/docs", IsFolder: true,
	})

	require.NoError(t, cloudRepo.Manifest().Validate())

	movedID, ok := cloudRepo.Manifest().IDByPath("archive/docs")
	require.True(t, ok)
	assert.Equal(t, id, movedID, "the Drive id must survive the move")

	_, ok = cloudRepo.Manifest().IDByPath("docs")
	assert.False(t, ok)
}

func TestProcessor_ApplyDispatchesRemoval(t *testing.T) {
	hasher := checksum.NewSHA256()
	cloudRepo := NewCloudRepository(newFakeCloudService(), manifest.New(), hasher)
	localRoot := t.TempDir()
	localRepo := NewLocalRepository(localRoot, manifest.New(), hasher)
	require.NoError(t, localRepo.CreateFolder(context.Background(), "docs"))

	p := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))

	p.apply(context.Background(), manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Removed, NewPath: "docs", IsFolder: true})

	_, err := os.Stat(filepath.Join(localRoot, "docs"))
	assert.True(t, os.IsNotExist(err))
}
