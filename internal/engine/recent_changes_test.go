package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

func TestRecentChanges_ContainsWithinWindow(t *testing.T) {
	rc := newRecentChanges(60 * time.Second)
	now := time.Now()

	ci := manifest.ChangeInfo{Kind: manifest.Created, NewPath: "a.txt"}
	rc.append(ci, now)

	assert.True(t, rc.contains(ci, now.Add(10*time.Second)))
}

func TestRecentChanges_ExpiresOutsideWindow(t *testing.T) {
	rc := newRecentChanges(60 * time.Second)
	now := time.Now()

	ci := manifest.ChangeInfo{Kind: manifest.Created, NewPath: "a.txt"}
	rc.append(ci, now)

	assert.False(t, rc.contains(ci, now.Add(61*time.Second)))
}

func TestRecentChanges_PruneRemovesExpiredOnly(t *testing.T) {
	rc := newRecentChanges(30 * time.Second)
	now := time.Now()

	old := manifest.ChangeInfo{Kind: manifest.Created, NewPath: "old.txt"}
	fresh := manifest.ChangeInfo{Kind: manifest.Created, NewPath: "fresh.txt"}

	rc.append(old, now)
	rc.append(fresh, now.Add(25*time.Second))

	rc.prune(now.Add(40 * time.Second))

	assert.False(t, rc.contains(old, now.Add(40*time.Second)))
	assert.True(t, rc.contains(fresh, now.Add(40*time.Second)))
}

func TestRecentChanges_RemoveComplementary(t *testing.T) {
	rc := newRecentChanges(60 * time.Second)
	now := time.Now()

	rc.append(manifest.ChangeInfo{Kind: manifest.Removed, NewPath: "moved.txt"}, now)
	rc.append(manifest.ChangeInfo{Kind: manifest.Created, NewPath: "unrelated.txt"}, now)

	removed := rc.removeComplementary(manifest.ChangeInfo{Kind: manifest.Created, NewPath: "moved.txt"})

	assert.Equal(t, 1, removed)
	assert.False(t, rc.contains(manifest.ChangeInfo{Kind: manifest.Removed, NewPath: "moved.txt"}, now))
	assert.True(t, rc.contains(manifest.ChangeInfo{Kind: manifest.Created, NewPath: "unrelated.txt"}, now))
}

func TestRecentChanges_RemoveComplementaryIgnoresDifferentPath(t *testing.T) {
	rc := newRecentChanges(60 * time.Second)
	now := time.Now()

	rc.append(manifest.ChangeInfo{Kind: manifest.Removed, NewPath: "a.txt"}, now)

	removed := rc.removeComplementary(manifest.ChangeInfo{Kind: manifest.Created, NewPath: "b.txt"})

	assert.Equal(t, 0, removed)
}
