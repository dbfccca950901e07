package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

func newTestPoller(t *testing.T) (*CloudPoller, *CloudRepository, *Processor, *fakeCloudService) {
	t.Helper()

	svc := newFakeCloudService()
	cloudRepo := NewCloudRepository(svc, manifest.New(), checksum.NewSHA256())
	localRepo := NewLocalRepository(t.TempDir(), manifest.New(), checksum.NewSHA256())
	processor := NewProcessor(t.TempDir(), []Repository{cloudRepo, localRepo}, 60*time.Second, testLogger(t))
	poller := NewCloudPoller(svc, cloudRepo, processor, time.Second, 60*time.Second, testLogger(t))

	return poller, cloudRepo, processor, svc
}

func TestCloudPoller_DrainOnceFollowsPaginationThenSetsCursor(t *testing.T) {
	poller, cloudRepo, _, svc := newTestPoller(t)

	svc.changePages = []*drive.ChangeList{
		{
			Changes:       []*drive.Change{{FileId: "f1", File: &drive.File{Id: "f1", Name: "a.txt", MimeType: "application/octet-stream", Md5Checksum: "sum1"}}},
			NextPageToken: "page-2",
		},
		{
			Changes:           []*drive.Change{{FileId: "f2", File: &drive.File{Id: "f2", Name: "b.txt", MimeType: "application/octet-stream", Md5Checksum: "sum2"}}},
			NewStartPageToken: "final-token",
		},
	}

	n, err := poller.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, svc.listChangesCalls)
	assert.Equal(t, "final-token", cloudRepo.Manifest().Cursor())

	_, ok := cloudRepo.Manifest().IDByPath("a.txt")
	assert.True(t, ok)

	_, ok = cloudRepo.Manifest().IDByPath("b.txt")
	assert.True(t, ok)
}

func TestCloudPoller_ProcessChangeQueuesCreated(t *testing.T) {
	poller, _, processor, _ := newTestPoller(t)

	poller.processChange(&drive.Change{
		FileId: "f1",
		File:   &drive.File{Id: "f1", Name: "a.txt", MimeType: "application/octet-stream", Md5Checksum: "sum1"},
	})

	require.Equal(t, 1, len(processor.queue.items))
	assert.Equal(t, manifest.Created, processor.queue.items[0].Kind)
	assert.Equal(t, "a.txt", processor.queue.items[0].NewPath)
}

func TestCloudPoller_ProcessChangeQueuesRemoval(t *testing.T) {
	poller, cloudRepo, processor, _ := newTestPoller(t)

	cloudRepo.Manifest().PutFile("f1", manifest.FileInfo{Path: "a.txt", Checksum: "sum1"})

	poller.processChange(&drive.Change{FileId: "f1", Removed: true})

	require.Equal(t, 1, len(processor.queue.items))
	assert.Equal(t, manifest.Removed, processor.queue.items[0].Kind)
	assert.Equal(t, "a.txt", processor.queue.items[0].NewPath)
}

func TestCloudPoller_ProcessChangeSuppressesSelfEcho(t *testing.T) {
	poller, cloudRepo, processor, _ := newTestPoller(t)

	cloudRepo.RecordSelfWrite(manifest.ChangeInfo{Kind: manifest.Created, NewPath: "a.txt", NewChecksum: "sum1"})

	poller.processChange(&drive.Change{
		FileId: "f1",
		File:   &drive.File{Id: "f1", Name: "a.txt", MimeType: "application/octet-stream", Md5Checksum: "sum1"},
	})

	assert.Equal(t, 0, len(processor.queue.items))
}

func TestCloudPoller_IdleReflectsLastDrainedPage(t *testing.T) {
	poller, _, _, _ := newTestPoller(t)

	assert.False(t, poller.Idle())

	n, err := poller.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	poller.idle.Store(n == 0)
	assert.True(t, poller.Idle())
}
