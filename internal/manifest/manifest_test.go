package manifest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	m := New()
	m.SetCursor("cursor-123")
	m.PutFolder("folder-1", "docs")
	m.PutFolder("folder-2", "docs/sub")
	m.PutFile("file-1", FileInfo{
		Path:     "docs/a.txt",
		Size:     12,
		Modified: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
		Checksum: "d41d8cd98f00b204e9800998ecf8427e",
	})

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	assert.False(t, m.Dirty())

	loaded, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.Cursor(), loaded.Cursor())
	assert.Equal(t, m.AllFolders(), loaded.AllFolders())
	assert.Equal(t, m.AllFiles(), loaded.AllFiles())
}

func TestManifestInvariantsAfterMutation(t *testing.T) {
	m := New()

	m.PutFolder("f1", "a")
	m.PutFile("i1", FileInfo{Path: "a/b.txt", Checksum: "x"})
	m.PutFile("i1", FileInfo{Path: "a/c.txt", Checksum: "y"})
	m.RemoveID("f1")

	require.NoError(t, m.Validate())

	_, ok := m.IDByPath("a/b.txt")
	assert.False(t, ok, "moving a file must clear its old reverse-index entry")

	id, ok := m.IDByPath("a/c.txt")
	assert.True(t, ok)
	assert.Equal(t, "i1", id)
}

func TestManifestDirtyFlag(t *testing.T) {
	m := New()
	assert.False(t, m.Dirty())

	m.PutFolder("f1", "a")
	assert.True(t, m.Dirty())

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	assert.False(t, m.Dirty())
}

func TestLoadRejectsCorruptData(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("cursor\nnot-a-number\n")))
	require.Error(t, err)
}
