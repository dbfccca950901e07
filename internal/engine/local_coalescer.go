package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

type rawKind int

const (
	rawCreated rawKind = iota
	rawModified
	rawRemoved
)

// rawEvent is one watcher-level observation, queued with a due-time one
// coalesce window in the future.
type rawEvent struct {
	kind    rawKind
	absPath string
	dueAt   time.Time
}

// coalescer is the dedicated pump task behind the local observer: it
// consumes raw events in FIFO order, respecting due-time, folding
// redundant or complementary pairs before raising a single canonical
// change.
type coalescer struct {
	root           string
	repo           *LocalRepository
	processor      *Processor
	hasher         checksum.Hasher
	window         time.Duration
	selfEchoWindow time.Duration
	logger         *slog.Logger

	mu       deadlock.Mutex
	cond     *sync.Cond
	pending  []rawEvent
	stopping bool
}

// newCoalescer constructs a coalescer. selfEchoWindow bounds how long a
// path just written by the local repository's own apply path is treated as
// an echo rather than a foreign event.
func newCoalescer(root string, repo *LocalRepository, processor *Processor, hasher checksum.Hasher, window, selfEchoWindow time.Duration, logger *slog.Logger) *coalescer {
	c := &coalescer{root: root, repo: repo, processor: processor, hasher: hasher, window: window, selfEchoWindow: selfEchoWindow, logger: logger}
	c.cond = sync.NewCond(&c.mu)

	return c
}

// enqueue appends a raw event with a due-time window in the future.
func (c *coalescer) enqueue(kind rawKind, absPath string) {
	c.mu.Lock()
	c.pending = append(c.pending, rawEvent{kind: kind, absPath: absPath, dueAt: time.Now().Add(c.window)})
	c.cond.Broadcast()
	c.mu.Unlock()
}

// stop requests the pump loop to exit once it next wakes.
func (c *coalescer) stop() {
	c.mu.Lock()
	c.stopping = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// pumpLoop consumes pending in FIFO order respecting due-time, until ctx is
// cancelled.
func (c *coalescer) pumpLoop(ctx context.Context) {
	stopped := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			c.stop()
		case <-stopped:
		}
	}()
	defer close(stopped)

	for {
		head, ok := c.waitForDueHead(ctx)
		if !ok {
			return
		}

		c.processHead(head)
	}
}

// waitForDueHead blocks until the queue has a head event whose due-time has
// arrived, or ctx/stop ends the wait.
func (c *coalescer) waitForDueHead(ctx context.Context) (rawEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if ctx.Err() != nil || (c.stopping && len(c.pending) == 0) {
			return rawEvent{}, false
		}

		if len(c.pending) == 0 {
			c.cond.Wait()

			continue
		}

		head := c.pending[0]

		wait := time.Until(head.dueAt)
		if wait <= 0 {
			return head, true
		}

		c.waitTimeout(wait)
	}
}

// waitTimeout releases the lock for at most d, woken early by a broadcast
// from enqueue/stop. sync.Cond has no built-in timeout, so a timer fires a
// broadcast after d; a stale broadcast after an early wake is harmless since
// every waiter re-checks its predicate.
func (c *coalescer) waitTimeout(d time.Duration) {
	t := time.AfterFunc(d, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer t.Stop()

	c.cond.Wait()
}

// processHead classifies the head event against the rest of the queue. It
// re-reads c.pending under the lock, since membership may have changed
// since waitForDueHead returned the head value.
func (c *coalescer) processHead(head rawEvent) {
	c.mu.Lock()

	if len(c.pending) == 0 || c.pending[0].absPath != head.absPath || c.pending[0].kind != head.kind {
		c.mu.Unlock() // head was already consumed as part of another pairing

		return
	}

	switch head.kind {
	case rawCreated, rawModified:
		if c.dropRedundantLocked(head) {
			c.pending = c.pending[1:]
			c.mu.Unlock()

			return
		}
	}

	var paired bool

	if head.kind == rawCreated || head.kind == rawRemoved {
		paired = c.tryMoveResynthesisLocked(head)
	}

	if paired {
		c.mu.Unlock()

		return
	}

	c.pending = c.pending[1:]
	c.mu.Unlock()

	c.raise(head)
}

// dropRedundantLocked implements: "drop any later Modified on the same
// path; if a later Removed on the same path exists, drop this head as
// well." Must be called with c.mu held; returns true if head itself should
// be dropped without raising.
func (c *coalescer) dropRedundantLocked(head rawEvent) bool {
	out := c.pending[:1:1] // head stays in place; the caller removes it when this returns true
	dropHead := false

	for _, ev := range c.pending[1:] {
		if ev.absPath != head.absPath {
			out = append(out, ev)

			continue
		}

		switch ev.kind {
		case rawModified:
			continue // redundant modify, drop silently

		case rawRemoved:
			dropHead = true
			out = append(out, ev) // the pending delete supersedes head and is still raised

		default:
			out = append(out, ev)
		}
	}

	c.pending = out

	return dropHead
}

// tryMoveResynthesisLocked searches the remainder of the queue for a
// complementary Created/Removed event whose filename matches head's, and
// when the newer path's content matches the manifest's record of the older
// path, collapses both into a single Moved/Renamed raise. Must be called
// with c.mu held.
func (c *coalescer) tryMoveResynthesisLocked(head rawEvent) bool {
	headName := filepath.Base(head.absPath)

	for i, ev := range c.pending[1:] {
		if ev.kind == head.kind || !head.kind.complementaryRaw(ev.kind) {
			continue
		}

		if filepath.Base(ev.absPath) != headName {
			continue
		}

		createdEv, removedEv := head, ev
		if head.kind == rawRemoved {
			createdEv, removedEv = ev, head
		}

		if !c.contentMatchesOldRecord(createdEv.absPath, removedEv.absPath) {
			continue
		}

		// Consume both: remove the matched partner (at index i+1 in
		// c.pending) and the head (index 0).
		rest := append(append([]rawEvent{}, c.pending[1:1+i]...), c.pending[2+i:]...)
		c.pending = rest

		c.mu.Unlock()
		c.raiseMove(removedEv.absPath, createdEv.absPath)
		c.mu.Lock()

		return true
	}

	return false
}

func (k rawKind) complementaryRaw(other rawKind) bool {
	return (k == rawCreated && other == rawRemoved) || (k == rawRemoved && other == rawCreated)
}

// contentMatchesOldRecord compares the file currently at newAbsPath
// against the manifest's record of the older path: size first, then
// checksum. mtime is deliberately not compared: records written by the
// engine's own apply path carry no mtime, and checksum equality already
// decides content identity (see DESIGN.md).
func (c *coalescer) contentMatchesOldRecord(newAbsPath, oldAbsPath string) bool {
	oldRel, err := manifest.ToRepoPath(c.root, oldAbsPath)
	if err != nil {
		return false
	}

	id, ok := c.repo.Manifest().IDByPath(oldRel)
	if !ok {
		return false
	}

	old, ok := c.repo.Manifest().FileByID(id)
	if !ok {
		return false // a folder has no content record, so a folder Created/Removed pair is not re-synthesized into a move
	}

	info, err := os.Stat(newAbsPath)
	if err != nil {
		return false
	}

	if info.Size() != old.Size {
		return false
	}

	f, err := os.Open(newAbsPath)
	if err != nil {
		return false
	}
	defer f.Close()

	sum, err := c.hasher.Compute(f)

	return err == nil && sum == old.Checksum
}

// raiseMove emits a synthesized Moved/Renamed ChangeInfo for a coalesced
// Created/Removed pair.
func (c *coalescer) raiseMove(oldAbsPath, newAbsPath string) {
	oldRel, err := manifest.ToRepoPath(c.root, oldAbsPath)
	if err != nil {
		return
	}

	newRel, err := manifest.ToRepoPath(c.root, newAbsPath)
	if err != nil {
		c.logger.Warn("move destination escapes sync root, ignoring", slog.String("path", newAbsPath))

		return
	}

	info, err := os.Stat(newAbsPath)
	isFolder := err == nil && info.IsDir()

	sum := manifest.ChecksumUnknown
	if !isFolder {
		if id, ok := c.repo.Manifest().IDByPath(oldRel); ok {
			if fi, ok := c.repo.Manifest().FileByID(id); ok {
				sum = fi.Checksum
			}
		}
	}

	ci := c.repo.Manifest().RegisterMove(manifest.RepoLocal, isFolder, oldRel, newRel, sum)

	if c.repo.RecentlyWrittenBySelf(ci.NewPath, time.Now(), c.selfEchoWindow) {
		c.logger.Debug("suppressing move matching this repository's own recent write",
			slog.String("path", ci.NewPath))

		return
	}

	c.processor.QueueChange(ci)
}

// raise handles an unpaired event: map to a repository-relative path,
// reject it if outside the root, and classify against the manifest.
func (c *coalescer) raise(ev rawEvent) {
	relPath, err := manifest.ToRepoPath(c.root, ev.absPath)
	if err != nil {
		c.logger.Debug("local event outside sync root, ignoring", slog.String("path", ev.absPath))

		return
	}

	if relPath == "" {
		return // the root itself
	}

	m := c.repo.Manifest()

	id, known := m.IDByPath(relPath)
	if !known {
		id = relPath
	}

	if ev.kind == rawRemoved {
		if ci, ok := m.RegisterRemoval(manifest.RepoLocal, id); ok {
			if c.repo.RecentlyWrittenBySelf(ci.NewPath, time.Now(), c.selfEchoWindow) {
				c.logger.Debug("suppressing removal matching this repository's own recent write",
					slog.String("path", ci.NewPath))

				return
			}

			c.processor.QueueChange(ci)
		}

		return
	}

	info, err := os.Stat(ev.absPath)
	if err != nil {
		return // disappeared again before we got to it; the complementary Removed will raise instead
	}

	obs := manifest.Observation{ID: id, Path: relPath, IsFolder: info.IsDir()}

	if !info.IsDir() {
		obs.Size = info.Size()
		obs.Modified = info.ModTime().UTC()

		f, openErr := os.Open(ev.absPath)
		if openErr != nil {
			obs.Checksum = manifest.ChecksumUnreadable
		} else {
			sum, hashErr := c.hasher.Compute(f)
			f.Close()

			if hashErr != nil {
				obs.Checksum = manifest.ChecksumUnreadable
			} else {
				obs.Checksum = sum
			}
		}
	}

	if ci, ok := m.RegisterChange(manifest.RepoLocal, obs); ok {
		if c.repo.RecentlyWrittenBySelf(ci.NewPath, time.Now(), c.selfEchoWindow) {
			c.logger.Debug("suppressing change matching this repository's own recent write",
				slog.String("path", ci.NewPath))

			return
		}

		c.processor.QueueChange(ci)
	}
}
