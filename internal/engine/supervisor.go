package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/clouddrive"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// Engine wires the cloud poller, local observer, change processor, and
// startup reconciler into one supervised unit. It is the top-level object
// the CLI layer constructs and runs.
type Engine struct {
	workDir        string
	restartBackoff time.Duration

	cloudRepo *CloudRepository
	localRepo *LocalRepository
	processor *Processor
	poller    *CloudPoller
	observer  *LocalObserver
	reconcile *Reconciler

	remotePrecedence bool

	logger *slog.Logger
}

// Params bundles the collaborators and configuration Engine needs to
// start.
type Params struct {
	WorkDir            string
	SyncRoot           string
	DownstreamPrefix   string
	CoalesceWindow     time.Duration
	RecentWindow       time.Duration
	CloudPollInterval  time.Duration
	SafetyScanInterval time.Duration
	RestartBackoff     time.Duration
	Hasher             checksum.Hasher
	CloudService       clouddrive.Service
	Logger             *slog.Logger
}

// NewEngine loads or builds both manifests and constructs every
// collaborator, but does not start any task. Whether the cloud manifest
// was freshly built (rather than resumed from disk) decides reconciliation
// precedence later.
func NewEngine(ctx context.Context, p Params) (*Engine, error) {
	cloudManifest, remotePrecedence, err := loadOrBuildCloudManifest(ctx, p.WorkDir, p.CloudService)
	if err != nil {
		return nil, fmt.Errorf("engine: preparing cloud manifest: %w", err)
	}

	localManifest, err := loadOrBuildLocalManifest(ctx, p.WorkDir, p.SyncRoot, p.Hasher)
	if err != nil {
		return nil, fmt.Errorf("engine: preparing local manifest: %w", err)
	}

	cloudRepo := NewCloudRepository(p.CloudService, cloudManifest, p.Hasher)
	localRepo := NewLocalRepository(p.SyncRoot, localManifest, p.Hasher)

	processor := NewProcessor(p.WorkDir, []Repository{cloudRepo, localRepo}, p.RecentWindow, p.Logger.With(slog.String("component", "processor")))
	if err := processor.LoadQueue(); err != nil {
		return nil, fmt.Errorf("engine: loading change queue: %w", err)
	}

	poller := NewCloudPoller(p.CloudService, cloudRepo, processor, p.CloudPollInterval, p.RecentWindow, p.Logger.With(slog.String("component", "cloud")))
	observer := NewLocalObserver(p.SyncRoot, localRepo, processor, p.Hasher, p.CoalesceWindow, p.RecentWindow, p.SafetyScanInterval, p.Logger.With(slog.String("component", "local")))
	reconciler := NewReconciler(cloudRepo, localRepo, processor, p.DownstreamPrefix, p.Logger.With(slog.String("component", "reconciler")))

	backoff := p.RestartBackoff
	if backoff == 0 {
		backoff = 30 * time.Second
	}

	return &Engine{
		workDir:          p.WorkDir,
		restartBackoff:   backoff,
		cloudRepo:        cloudRepo,
		localRepo:        localRepo,
		processor:        processor,
		poller:           poller,
		observer:         observer,
		reconcile:        reconciler,
		remotePrecedence: remotePrecedence,
		logger:           p.Logger,
	}, nil
}

// Run starts the cloud poller, local observer, change processor, and (once
// the cloud feed first drains to idle) the one-shot reconciler. It blocks
// until ctx is cancelled or a non-restartable task fails.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.poller.Run(gctx) })
	g.Go(func() error { return e.observer.Run(gctx) })
	g.Go(func() error { return e.runProcessorSupervised(gctx) })

	g.Go(func() error {
		if err := e.awaitCloudIdle(gctx); err != nil {
			return nil //nolint:nilerr // context cancellation, not a real failure
		}

		if err := e.reconcile.Run(gctx, e.remotePrecedence); err != nil {
			e.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		}

		return nil
	})

	return g.Wait()
}

// Stop requests shutdown of the processor and blocks until it has
// drained; the cloud poller and local observer are stopped via the
// context passed to Run.
func (e *Engine) Stop() {
	e.processor.Stop()
}

// awaitCloudIdle blocks until the cloud poller reports an idle drain or ctx
// ends.
func (e *Engine) awaitCloudIdle(ctx context.Context) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()

	for {
		if e.poller.Idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// runProcessorSupervised runs the processor, recovering a panic as an
// invariant-violation crash: writes a crash file and restarts after the
// configured backoff unless stop was requested.
func (e *Engine) runProcessorSupervised(ctx context.Context) error {
	for {
		err := e.runProcessorOnce(ctx)

		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			return nil // Run returned cleanly without ctx ending — Stop was requested and the queue drained
		}

		e.logger.Error("processor crashed, scheduling restart",
			slog.String("error", err.Error()), slog.Duration("backoff", e.restartBackoff))

		if sleepCtx(ctx, e.restartBackoff) {
			return nil
		}
	}
}

func (e *Engine) runProcessorOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stamp := time.Now()
			if crashErr := writeCrashFile(e.workDir, r, stamp); crashErr != nil {
				e.logger.Error("failed to write crash file", slog.String("error", crashErr.Error()))
			}

			err = NewKindError(ErrKindInvariant, fmt.Errorf("processor panic: %v", r))
		}
	}()

	return e.processor.Run(ctx)
}

// loadOrBuildCloudManifest loads the persisted cloud manifest, or performs
// a full cloud enumeration if none exists. A file that exists but fails to
// load is returned as an error; it is not rebuilt. remotePrecedence is true
// only in the fresh-build case.
func loadOrBuildCloudManifest(ctx context.Context, workDir string, svc clouddrive.Service) (*manifest.Manifest, bool, error) {
	m, err := loadManifestFile(cloudManifestFileName, workDir)
	if err == nil {
		return m, false, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("loading %s: %w", cloudManifestFileName, err)
	}

	built, err := manifest.BuildFromCloud(ctx, svc)
	if err != nil {
		return nil, false, fmt.Errorf("building from cloud: %w", err)
	}

	if err := saveManifestFile(built, cloudManifestFileName, workDir); err != nil {
		return nil, false, fmt.Errorf("persisting fresh cloud manifest: %w", err)
	}

	return built, true, nil
}

// loadOrBuildLocalManifest loads the persisted local manifest, or performs
// a full local walk if none exists. A file that exists but fails to load is
// returned as an error; it is not rebuilt.
func loadOrBuildLocalManifest(ctx context.Context, workDir, syncRoot string, hasher checksum.Hasher) (*manifest.Manifest, error) {
	m, err := loadManifestFile(localManifestFileName, workDir)
	if err == nil {
		return m, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", localManifestFileName, err)
	}

	built, err := manifest.BuildFromLocal(ctx, syncRoot, hasher)
	if err != nil {
		return nil, fmt.Errorf("building from local: %w", err)
	}

	if err := saveManifestFile(built, localManifestFileName, workDir); err != nil {
		return nil, fmt.Errorf("persisting fresh local manifest: %w", err)
	}

	return built, nil
}
