package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// changesFileName is the fixed filename for the persisted processor queue.
const changesFileName = "changes"

// Processor is the single writer that applies each change to every
// non-originating repository, serially and durably.
type Processor struct {
	mu   deadlock.Mutex
	cond *sync.Cond

	workDir string
	logger  *slog.Logger

	repos  map[manifest.RepoTag]Repository
	order  []manifest.RepoTag // stable iteration order
	queue  *changeQueue
	recent *recentChanges

	busy     bool
	stopping bool
	done     chan struct{}
}

// NewProcessor constructs a Processor. repos must contain exactly the
// engine's two repositories; recentWindow is the echo-suppression horizon.
func NewProcessor(workDir string, repos []Repository, recentWindow time.Duration, logger *slog.Logger) *Processor {
	p := &Processor{
		workDir: workDir,
		logger:  logger,
		repos:   make(map[manifest.RepoTag]Repository, len(repos)),
		queue:   newChangeQueue(),
		recent:  newRecentChanges(recentWindow),
		done:    make(chan struct{}),
	}

	for _, r := range repos {
		p.repos[r.Tag()] = r
		p.order = append(p.order, r.Tag())
	}

	p.cond = sync.NewCond(&p.mu)

	return p
}

// LoadQueue reads the persisted queue from workDir/changes, if present. A
// missing file is not an error (fresh start); a corrupt file is logged and
// the queue starts empty.
func (p *Processor) LoadQueue() error {
	f, err := os.Open(filepath.Join(p.workDir, changesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}
	defer f.Close()

	q, err := loadQueue(f)
	if err != nil {
		p.logger.Warn("change queue corrupt, starting empty", slog.String("error", err.Error()))

		return nil
	}

	p.mu.Lock()
	p.queue = q
	p.mu.Unlock()

	return nil
}

// persistLocked writes the queue to disk. Must be called with p.mu held —
// the queue file has no concurrent reader, only this processor rewrites
// it.
func (p *Processor) persistLocked() {
	path := filepath.Join(p.workDir, changesFileName)

	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		p.logger.Error("failed to open change queue for writing", slog.String("error", err.Error()))

		return
	}

	if err := p.queue.save(f); err != nil {
		f.Close()
		p.logger.Error("failed to write change queue", slog.String("error", err.Error()))

		return
	}

	if err := f.Close(); err != nil {
		p.logger.Error("failed to close change queue", slog.String("error", err.Error()))

		return
	}

	if err := os.Rename(tmp, path); err != nil {
		p.logger.Error("failed to install change queue", slog.String("error", err.Error()))
	}
}

// QueueChange is the producer-facing enqueue path. A MovedAndModified
// change is split into a Created at the new path and a Removed at the old
// path before either is enqueued.
func (p *Processor) QueueChange(ci manifest.ChangeInfo) {
	if ci.Kind == manifest.MovedAndModified {
		p.QueueChange(manifest.ChangeInfo{
			Source: ci.Source, Kind: manifest.Created, NewPath: ci.NewPath,
			IsFolder: ci.IsFolder, NewChecksum: ci.NewChecksum,
		})
		p.QueueChange(manifest.ChangeInfo{
			Source: ci.Source, Kind: manifest.Removed, NewPath: ci.OldPath,
			IsFolder: ci.IsFolder, NewChecksum: ci.OldChecksum,
		})

		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recent.contains(ci, time.Now()) {
		return
	}

	p.queue.push(ci)
	p.persistLocked()
	p.cond.Broadcast()
}

// AwaitIdle blocks until the processor is both not-busy and has an empty
// queue, or ctx is done. The reconciler drains to idle between phases so
// each phase observes the previous one's writes.
func (p *Processor) AwaitIdle(ctx context.Context) error {
	stopped := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stopped:
		}
	}()
	defer close(stopped)

	p.mu.Lock()
	defer p.mu.Unlock()

	for (p.busy || !p.queue.empty()) && ctx.Err() == nil {
		p.cond.Wait()
	}

	return ctx.Err()
}

// Run is the processor's main loop. It returns when Stop has been called
// and the queue has drained.
func (p *Processor) Run(ctx context.Context) error {
	defer close(p.done)

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stopped:
		}
	}()

	for {
		ci, ok := p.nextLocked(ctx)
		if !ok {
			return nil
		}

		p.apply(ctx, ci)
	}
}

// nextLocked marks idle, persists, waits for work, pops the head, runs
// echo suppression, and appends to the recent-changes window — all under
// the lock, which is released before dispatch.
func (p *Processor) nextLocked(ctx context.Context) (manifest.ChangeInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.busy = false
	p.cond.Broadcast()
	p.persistLocked()

	for p.queue.empty() && !p.stopping && ctx.Err() == nil {
		p.cond.Wait()
	}

	if p.queue.empty() {
		return manifest.ChangeInfo{}, false
	}

	ci, _ := p.queue.pop()

	if ci.Kind == manifest.Created || ci.Kind == manifest.Removed {
		if n := p.recent.removeComplementary(ci); n > 0 {
			p.logger.Debug("echo suppression cleared stale entries",
				slog.String("path", ci.NewPath), slog.Int("count", n))
		}
	}

	p.recent.append(ci, time.Now())
	p.busy = true

	// Deliberately not persisted here: the popped head stays in the on-disk
	// queue until the next iteration persists post-completion, so a crash
	// mid-apply reloads and reapplies the unfinished change on restart.
	return ci, true
}

// apply dispatches ci against every repository other than its source.
func (p *Processor) apply(ctx context.Context, ci manifest.ChangeInfo) {
	for _, tag := range p.order {
		if tag == ci.Source {
			continue
		}

		dest := p.repos[tag]
		src := p.repos[ci.Source]

		if err := p.applyOne(ctx, src, dest, ci); err != nil {
			p.logger.Error("applying change failed, dropping (next sweep will re-raise)",
				slog.String("path", ci.NewPath),
				slog.String("kind", ci.Kind.String()),
				slog.String("dest", string(tag)),
				slog.String("error", err.Error()),
			)

			continue
		}

		dest.RecordSelfWrite(ci)
	}
}

// applyOne dispatches a single ChangeInfo against dest by (is-folder,
// kind). A transient cancellation error while not stopping is retried
// indefinitely.
func (p *Processor) applyOne(ctx context.Context, src, dest Repository, ci manifest.ChangeInfo) error {
	for {
		err := p.dispatch(ctx, src, dest, ci)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil && !p.isStopping() {
			p.logger.Warn("transient cancellation during apply, retrying",
				slog.String("path", ci.NewPath), slog.String("error", err.Error()))
			time.Sleep(time.Second)

			continue
		}

		return err
	}
}

func (p *Processor) dispatch(ctx context.Context, src, dest Repository, ci manifest.ChangeInfo) error {
	switch ci.Kind {
	case manifest.Created, manifest.Modified:
		if ci.IsFolder {
			return dest.CreateFolder(ctx, ci.NewPath)
		}

		rc, err := src.GetFileContentStream(ctx, ci.NewPath)
		if err != nil {
			return err
		}
		defer rc.Close()

		return dest.PutFile(ctx, ci.NewPath, rc)

	case manifest.Moved, manifest.Renamed:
		if ci.IsFolder {
			return dest.MoveFolder(ctx, ci.OldPath, ci.NewPath)
		}

		return dest.MoveFile(ctx, ci.OldPath, ci.NewPath)

	case manifest.Removed:
		if ci.IsFolder {
			return dest.RemoveFolder(ctx, ci.NewPath)
		}

		return dest.RemoveFile(ctx, ci.NewPath)

	default:
		return nil
	}
}

// Stop requests shutdown and blocks until Run has exited — synchronous
// from the caller's perspective.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.done
}

func (p *Processor) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stopping
}
