package engine

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// defaultSafetyScanInterval is the backstop full-rescan period used when the
// caller passes zero: a low-frequency safety net against events fsnotify
// coalesces away or misses entirely.
const defaultSafetyScanInterval = 5 * time.Minute

// LocalObserver translates an OS-level filesystem watch into canonical
// changes, compensating for the watcher's granularity via a coalescing
// pump.
type LocalObserver struct {
	root           string
	repo           *LocalRepository
	processor      *Processor
	hasher         checksum.Hasher
	watcherFactory func() (FsWatcher, error)
	scanInterval   time.Duration
	logger         *slog.Logger

	coalescer *coalescer
}

// NewLocalObserver constructs a LocalObserver. coalesceWindow is the
// due-time delay applied to every raw event. selfEchoWindow bounds how long
// a path just written by the local repository's own apply path is treated as
// an echo rather than a foreign event.
func NewLocalObserver(root string, repo *LocalRepository, processor *Processor, hasher checksum.Hasher, coalesceWindow, selfEchoWindow, scanInterval time.Duration, logger *slog.Logger) *LocalObserver {
	if scanInterval <= 0 {
		scanInterval = defaultSafetyScanInterval
	}

	return &LocalObserver{
		root:           root,
		repo:           repo,
		processor:      processor,
		hasher:         hasher,
		watcherFactory: newFsnotifyWatcher,
		scanInterval:   scanInterval,
		logger:         logger,
		coalescer:      newCoalescer(root, repo, processor, hasher, coalesceWindow, selfEchoWindow, logger),
	}
}

// Run starts the fsnotify watch and the coalescing pump, blocking until
// ctx is cancelled.
func (o *LocalObserver) Run(ctx context.Context) error {
	watcher, err := o.watcherFactory()
	if err != nil {
		return NewKindError(ErrKindTransport, err)
	}
	defer watcher.Close()

	if err := o.addWatchesRecursive(watcher, o.root); err != nil {
		return NewKindError(ErrKindTransport, err)
	}

	watchErrCh := make(chan error, 1)

	go func() { watchErrCh <- o.watchLoop(ctx, watcher) }()

	o.coalescer.pumpLoop(ctx)

	return <-watchErrCh
}

// addWatchesRecursive walks root and adds a watch on every directory —
// fsnotify watches are not recursive, so each subdirectory needs its own.
func (o *LocalObserver) addWatchesRecursive(watcher FsWatcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			o.logger.Warn("walk error during watch setup", slog.String("path", p), slog.String("error", walkErr.Error()))

			return skipDirEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if addErr := watcher.Add(p); addErr != nil {
			o.logger.Warn("failed to add watch", slog.String("path", p), slog.String("error", addErr.Error()))
		}

		return nil
	})
}

// watchLoop is the main select loop consuming fsnotify events/errors and
// driving the periodic safety rescan.
func (o *LocalObserver) watchLoop(ctx context.Context, watcher FsWatcher) error {
	ticker := time.NewTicker(o.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			o.handleFsEvent(ev, watcher)

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			o.logger.Warn("filesystem watcher error", slog.String("error", watchErr.Error()))

		case <-ticker.C:
			o.runSafetyScan(ctx)
		}
	}
}

// handleFsEvent maps one fsnotify.Event to a raw coalescer event.
// fsnotify never pairs a rename's old and new path, so Remove and Rename
// are both treated as removal; the coalescer's Created/Removed pairing
// re-synthesizes moves.
func (o *LocalObserver) handleFsEvent(ev fsnotify.Event, watcher FsWatcher) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if addErr := watcher.Add(ev.Name); addErr != nil {
				o.logger.Warn("failed to add watch on new directory", slog.String("path", ev.Name), slog.String("error", addErr.Error()))
			}
		}

		o.coalescer.enqueue(rawCreated, ev.Name)

	case ev.Has(fsnotify.Write):
		o.coalescer.enqueue(rawModified, ev.Name)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		_ = watcher.Remove(ev.Name) // benign if already gone or never a directory

		o.coalescer.enqueue(rawRemoved, ev.Name)
	}
}

// runSafetyScan walks the root and feeds any divergence from the local
// manifest through the same path as fsnotify events, catching changes the
// watcher missed. Manifest-diff classification turns the unchanged bulk of
// the tree into no-ops.
func (o *LocalObserver) runSafetyScan(ctx context.Context) {
	o.logger.Debug("running local safety scan")

	o.repo.ledger.prune(time.Now(), o.coalescer.selfEchoWindow)

	err := filepath.WalkDir(o.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return skipDirEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p == o.root {
			return nil
		}

		if d.IsDir() {
			o.coalescer.enqueue(rawCreated, p)
		} else {
			o.coalescer.enqueue(rawModified, p)
		}

		return nil
	})
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("local safety scan failed", slog.String("error", err.Error()))

		return
	}

	o.enqueueMissingAsRemoved(ctx)
}

// enqueueMissingAsRemoved covers the deletion half of the backstop: a path
// the manifest still records but the disk no longer has means the watcher
// lost a Remove event somewhere.
func (o *LocalObserver) enqueueMissingAsRemoved(ctx context.Context) {
	m := o.repo.Manifest()

	for _, fi := range m.AllFiles() {
		if ctx.Err() != nil {
			return
		}

		abs := manifest.ToOSPath(o.root, fi.Path)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			o.coalescer.enqueue(rawRemoved, abs)
		}
	}

	for _, p := range m.AllFolders() {
		if ctx.Err() != nil {
			return
		}

		abs := manifest.ToOSPath(o.root, p)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			o.coalescer.enqueue(rawRemoved, abs)
		}
	}
}

func skipDirEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
