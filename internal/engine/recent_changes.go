package engine

import (
	"time"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// recentChange pairs a ChangeInfo with the time it was appended to the
// window.
type recentChange struct {
	info manifest.ChangeInfo
	at   time.Time
}

// recentChanges is the processor's echo-suppression window. Callers must
// hold the processor's lock; this type has no locking of its own since its
// every use in processor.go is already under that lock.
type recentChanges struct {
	window time.Duration
	items  []recentChange
}

func newRecentChanges(window time.Duration) *recentChanges {
	return &recentChanges{window: window}
}

// prune drops entries older than the window relative to now.
func (r *recentChanges) prune(now time.Time) {
	cut := 0

	for _, it := range r.items {
		if now.Sub(it.at) < r.window {
			break
		}

		cut++
	}

	if cut > 0 {
		r.items = append([]recentChange(nil), r.items[cut:]...)
	}
}

// contains reports whether an equal ChangeInfo (source-independent
// equality) is already present within the window.
func (r *recentChanges) contains(ci manifest.ChangeInfo, now time.Time) bool {
	r.prune(now)

	for _, it := range r.items {
		if it.info.Equal(ci) {
			return true
		}
	}

	return false
}

// removeComplementary removes every entry at the same path with a
// complementary kind to ci, clearing earlier ghosts so an out-of-order
// Created/Removed pair does not collapse forever. Returns the count
// removed.
func (r *recentChanges) removeComplementary(ci manifest.ChangeInfo) int {
	out := r.items[:0:0]
	removed := 0

	for _, it := range r.items {
		samePath := it.info.NewPath == ci.NewPath
		complementary := it.info.Kind.Complementary(ci.Kind)

		if samePath && complementary {
			removed++

			continue
		}

		out = append(out, it)
	}

	r.items = out

	return removed
}

// append adds ci to the window, stamped with now.
func (r *recentChanges) append(ci manifest.ChangeInfo, now time.Time) {
	r.items = append(r.items, recentChange{info: ci, at: now})
}
