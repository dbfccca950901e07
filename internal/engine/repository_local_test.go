package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

func newTestLocalRepository(t *testing.T) (*LocalRepository, string) {
	t.Helper()

	root := t.TempDir()

	return NewLocalRepository(root, manifest.New(), checksum.NewSHA256()), root
}

func TestLocalRepository_PutFileCreatesAndOverwrites(t *testing.T) {
	repo, root := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.PutFile(ctx, "docs/report.txt", strings.NewReader("hello")))

	got, err := os.ReadFile(filepath.Join(root, "docs", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, repo.PutFile(ctx, "docs/report.txt", strings.NewReader("goodbye")))

	got, err = os.ReadFile(filepath.Join(root, "docs", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "goodbye", string(got))
}

func TestLocalRepository_DoesFileExist(t *testing.T) {
	repo, _ := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.PutFile(ctx, "a.txt", strings.NewReader("content")))

	sum, err := checksum.NewSHA256().Compute(strings.NewReader("content"))
	require.NoError(t, err)

	assert.True(t, repo.DoesFileExist(ctx, manifest.ChangeInfo{NewPath: "a.txt", NewChecksum: sum}))
	assert.False(t, repo.DoesFileExist(ctx, manifest.ChangeInfo{NewPath: "a.txt", NewChecksum: "wrong"}))
	assert.False(t, repo.DoesFileExist(ctx, manifest.ChangeInfo{NewPath: "missing.txt"}))
}

func TestLocalRepository_CreateFolder(t *testing.T) {
	repo, root := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateFolder(ctx, "a/b/c"))

	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalRepository_MoveFileHappyPath(t *testing.T) {
	repo, _ := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.PutFile(ctx, "old.txt", strings.NewReader("x")))
	require.NoError(t, repo.MoveFile(ctx, "old.txt", "sub/new.txt"))

	assert.False(t, repo.DoesFileExist(ctx, manifest.ChangeInfo{NewPath: "old.txt"}))

	sum, _ := checksum.NewSHA256().Compute(strings.NewReader("x"))
	assert.True(t, repo.DoesFileExist(ctx, manifest.ChangeInfo{NewPath: "sub/new.txt", NewChecksum: sum}))
}

func TestLocalRepository_MoveFileRejectsDuplicateDestination(t *testing.T) {
	repo, _ := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.PutFile(ctx, "a.txt", strings.NewReader("a")))
	require.NoError(t, repo.PutFile(ctx, "b.txt", strings.NewReader("b")))

	err := repo.MoveFile(ctx, "a.txt", "b.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyDuplicateDestination)
	assert.True(t, Is(err, ErrKindPolicy))
}

func TestLocalRepository_MoveFileMissingSourceIsNotFound(t *testing.T) {
	repo, _ := newTestLocalRepository(t)

	err := repo.MoveFile(context.Background(), "nope.txt", "dest.txt")
	require.Error(t, err)
	assert.True(t, Is(err, ErrKindNotFound))
}

func TestLocalRepository_RemoveFileMissingIsSuccess(t *testing.T) {
	repo, _ := newTestLocalRepository(t)

	assert.NoError(t, repo.RemoveFile(context.Background(), "never-existed.txt"))
}

func TestLocalRepository_RemoveFolderRecursive(t *testing.T) {
	repo, root := newTestLocalRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateFolder(ctx, "a/b"))
	require.NoError(t, repo.PutFile(ctx, "a/b/file.txt", strings.NewReader("x")))
	require.NoError(t, repo.RemoveFolder(ctx, "a"))

	_, err := os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalRepository_RecordSelfWriteRoundTrip(t *testing.T) {
	repo, _ := newTestLocalRepository(t)

	ci := manifest.ChangeInfo{Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: "echoed.txt", NewChecksum: "sum"}

	repo.RecordSelfWrite(ci)

	assert.True(t, repo.RecentlyWrittenBySelf("echoed.txt", time.Now(), time.Minute))
	assert.False(t, repo.RecentlyWrittenBySelf("other.txt", time.Now(), time.Minute))

	fi, ok := repo.Manifest().FileByID("echoed.txt")
	require.True(t, ok)
	assert.Equal(t, "sum", fi.Checksum)
}

func TestLocalRepository_GetFileContentStreamMissingIsNotFound(t *testing.T) {
	repo, _ := newTestLocalRepository(t)

	_, err := repo.GetFileContentStream(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.True(t, Is(err, ErrKindNotFound))
}
