package engine

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// Reconciler runs the startup reconciliation pass, closing the gap caused
// by local events that occurred while the engine was not running. The
// cloud side is protected by its persisted cursor; the local side is not.
type Reconciler struct {
	cloud            *CloudRepository
	local            *LocalRepository
	processor        *Processor
	downstreamPrefix string
	logger           *slog.Logger
}

// NewReconciler constructs a Reconciler. downstreamPrefix is the
// configured one-way cloud-to-local prefix, the engine's sole policy
// decision.
func NewReconciler(cloud *CloudRepository, local *LocalRepository, processor *Processor, downstreamPrefix string, logger *slog.Logger) *Reconciler {
	return &Reconciler{cloud: cloud, local: local, processor: processor, downstreamPrefix: downstreamPrefix, logger: logger}
}

func (r *Reconciler) underPrefix(path string) bool {
	if r.downstreamPrefix == "" {
		return false
	}

	return path == r.downstreamPrefix || strings.HasPrefix(path, r.downstreamPrefix+"/")
}

// Run executes all five phases in order, draining the processor to idle
// between each so a phase observes its predecessor's writes.
// remotePrecedence is true iff the cloud manifest was freshly built rather
// than resumed from disk.
func (r *Reconciler) Run(ctx context.Context, remotePrecedence bool) error {
	cycleID := uuid.New().String()
	log := r.logger.With(slog.String("cycle_id", cycleID))

	log.Info("reconciliation starting", slog.Bool("remote_precedence", remotePrecedence))

	r.reconcileCloudFolders(remotePrecedence)

	if err := r.processor.AwaitIdle(ctx); err != nil {
		return err
	}

	log.Debug("reconciliation phase complete", slog.String("phase", "cloud_folders"))

	r.reconcileCloudFiles(remotePrecedence)

	if err := r.processor.AwaitIdle(ctx); err != nil {
		return err
	}

	log.Debug("reconciliation phase complete", slog.String("phase", "cloud_files"))

	r.reconcileLocalFolders()

	if err := r.processor.AwaitIdle(ctx); err != nil {
		return err
	}

	log.Debug("reconciliation phase complete", slog.String("phase", "local_folders"))

	r.reconcileLocalFiles(remotePrecedence)

	if err := r.processor.AwaitIdle(ctx); err != nil {
		return err
	}

	log.Debug("reconciliation phase complete", slog.String("phase", "local_files"))

	r.cleanStalePaths()

	log.Info("reconciliation complete")

	return nil
}

// reconcileCloudFolders is phase 1: "for each cloud folder missing locally".
func (r *Reconciler) reconcileCloudFolders(remotePrecedence bool) {
	cloudFolders := r.cloud.Manifest().AllFolders()

	for id, path := range cloudFolders {
		if _, ok := r.local.Manifest().IDByPath(path); ok {
			continue
		}

		r.enqueueCloudMissingLocally(id, path, true, "", remotePrecedence)
	}
}

// reconcileCloudFiles is phase 2: "for each cloud file not in local
// manifest".
func (r *Reconciler) reconcileCloudFiles(remotePrecedence bool) {
	for id, fi := range r.cloud.Manifest().AllFiles() {
		if _, ok := r.local.Manifest().IDByPath(fi.Path); ok {
			continue // present on both sides; divergence is phase 4's job
		}

		r.enqueueCloudMissingLocally(id, fi.Path, false, fi.Checksum, remotePrecedence)
	}
}

// enqueueCloudMissingLocally implements the branching shared by phases 1
// and 2: under the downstream-only prefix or with remote precedence, the
// cloud copy is downloaded; otherwise the local deletion is canonical and
// the removal is sourced locally so it lands on the cloud copy.
func (r *Reconciler) enqueueCloudMissingLocally(id, path string, isFolder bool, checksum string, remotePrecedence bool) {
	if r.underPrefix(path) || remotePrecedence {
		r.processor.QueueChange(manifest.ChangeInfo{
			Source: manifest.RepoCloud, Kind: manifest.Created, NewPath: path,
			IsFolder: isFolder, NewChecksum: checksum,
		})

		return
	}

	r.processor.QueueChange(manifest.ChangeInfo{
		Source: manifest.RepoLocal, Kind: manifest.Removed, NewPath: path,
		IsFolder: isFolder, NewChecksum: checksum,
	})
}

// reconcileLocalFolders is phase 3: "for each local folder not in cloud:
// under the prefix, remove it; else enqueue Created local→cloud."
func (r *Reconciler) reconcileLocalFolders() {
	for _, path := range r.local.Manifest().AllFolders() {
		if _, ok := r.cloud.Manifest().IDByPath(path); ok {
			continue
		}

		if r.underPrefix(path) && path != r.downstreamPrefix {
			// Sourced from the cloud side so the removal is applied against
			// the local tree: under the prefix the cloud is the truth.
			r.processor.QueueChange(manifest.ChangeInfo{
				Source: manifest.RepoCloud, Kind: manifest.Removed, NewPath: path, IsFolder: true,
			})

			continue
		}

		r.processor.QueueChange(manifest.ChangeInfo{
			Source: manifest.RepoLocal, Kind: manifest.Created, NewPath: path, IsFolder: true,
		})
	}
}

// reconcileLocalFiles is phase 4: "for each local file not in cloud, or
// present-but-different: create or modify, direction chosen as above."
func (r *Reconciler) reconcileLocalFiles(remotePrecedence bool) {
	for _, fi := range r.local.Manifest().AllFiles() {
		cloudID, ok := r.cloud.Manifest().IDByPath(fi.Path)

		var cfi manifest.FileInfo

		if ok {
			var cfiOK bool

			cfi, cfiOK = r.cloud.Manifest().FileByID(cloudID)
			if cfiOK && cfi.Checksum == fi.Checksum {
				continue
			}
		}

		if r.underPrefix(fi.Path) {
			// The prefix flows one way: a local file the cloud never had is
			// deleted, a divergent one is overwritten with the cloud copy.
			if !ok {
				r.processor.QueueChange(manifest.ChangeInfo{
					Source: manifest.RepoCloud, Kind: manifest.Removed, NewPath: fi.Path, NewChecksum: fi.Checksum,
				})

				continue
			}

			r.processor.QueueChange(manifest.ChangeInfo{
				Source: manifest.RepoCloud, Kind: manifest.Modified, NewPath: fi.Path, NewChecksum: cfi.Checksum,
			})

			continue
		}

		if ok && remotePrecedence {
			r.processor.QueueChange(manifest.ChangeInfo{
				Source: manifest.RepoCloud, Kind: manifest.Modified, NewPath: fi.Path, NewChecksum: cfi.Checksum,
			})

			continue
		}

		kind := manifest.Created
		if ok {
			kind = manifest.Modified
		}

		r.processor.QueueChange(manifest.ChangeInfo{
			Source: manifest.RepoLocal, Kind: kind, NewPath: fi.Path, NewChecksum: fi.Checksum,
		})
	}
}

// cleanStalePaths is the final bookkeeping pass: drop local manifest entries
// whose path is gone from the local disk and unknown to the cloud side —
// ghosts left behind by deletions that happened while the engine was down
// and that no earlier phase queued work for. No change is enqueued; the
// entries simply stop shadowing anything.
func (r *Reconciler) cleanStalePaths() {
	for id, path := range r.local.Manifest().AllFolders() {
		if _, ok := r.cloud.Manifest().IDByPath(path); ok {
			continue
		}

		if _, err := os.Stat(manifest.ToOSPath(r.local.root, path)); os.IsNotExist(err) {
			r.local.Manifest().RemoveID(id)
		}
	}

	for id, fi := range r.local.Manifest().AllFiles() {
		if _, ok := r.cloud.Manifest().IDByPath(fi.Path); ok {
			continue
		}

		if _, err := os.Stat(manifest.ToOSPath(r.local.root, fi.Path)); os.IsNotExist(err) {
			r.local.Manifest().RemoveID(id)
		}
	}
}
