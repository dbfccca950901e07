package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/jarimakinen/gdrivesync/internal/clouddrive"
	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

// cloudChangeFields is the field mask requested from the incremental
// change feed: the removal flag, the id, and the item metadata needed for
// classification.
const cloudChangeFields = "nextPageToken,newStartPageToken,changes(fileId,removed,file(" + clouddrive.ItemFields + "))"

// cloudPollerErrorBackoff is the sleep before retrying a failed change
// request; the cursor is not advanced across the failure.
const cloudPollerErrorBackoff = 10 * time.Second

// CloudPoller long-polls the cloud repository's incremental change feed
// and emits canonical changes to the processor.
type CloudPoller struct {
	svc            clouddrive.Service
	repo           *CloudRepository
	processor      *Processor
	interval       time.Duration
	selfEchoWindow time.Duration
	logger         *slog.Logger

	idle atomic.Bool
}

// NewCloudPoller constructs a CloudPoller. interval is the idle-sleep
// duration between drained batches. selfEchoWindow bounds how long a path
// just written by this repository's own apply path is treated as an echo
// rather than a foreign change.
func NewCloudPoller(svc clouddrive.Service, repo *CloudRepository, processor *Processor, interval, selfEchoWindow time.Duration, logger *slog.Logger) *CloudPoller {
	return &CloudPoller{svc: svc, repo: repo, processor: processor, interval: interval, selfEchoWindow: selfEchoWindow, logger: logger}
}

// Idle reports whether the most recent drain (every page followed in one
// pass) carried zero changes in total. A drain whose earlier pages carried
// changes does not count as idle, even when its last page is empty.
func (c *CloudPoller) Idle() bool { return c.idle.Load() }

// Run drives the poller until ctx is cancelled.
func (c *CloudPoller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := c.drainOnce(ctx)
		if err != nil {
			c.logger.Warn("cloud poll failed, retrying without advancing cursor",
				slog.String("error", err.Error()))

			if sleepCtx(ctx, cloudPollerErrorBackoff) {
				return nil
			}

			continue
		}

		c.idle.Store(n == 0)

		if c.repo.Manifest().Dirty() {
			c.saveManifest()
		}

		c.repo.ledger.prune(time.Now(), c.selfEchoWindow)

		if sleepCtx(ctx, c.interval) {
			return nil
		}
	}
}

// drainOnce follows the current page chain to exhaustion, returning the
// total number of changes observed.
func (c *CloudPoller) drainOnce(ctx context.Context) (int, error) {
	m := c.repo.Manifest()
	pageToken := m.Cursor()
	total := 0

	for {
		list, err := c.svc.ListChanges(ctx, pageToken, cloudChangeFields, true)
		if err != nil {
			return total, err
		}

		for _, change := range list.Changes {
			total++
			c.processChange(change)
		}

		switch {
		case list.NextPageToken != "":
			pageToken = list.NextPageToken

			continue

		case list.NewStartPageToken != "":
			m.SetCursor(list.NewStartPageToken)

			return total, nil

		default:
			c.logger.Error("change page carried neither a next nor a new-start token")

			return total, nil
		}
	}
}

// processChange classifies one feed entry: removed/trashed dispatches
// RegisterRemoval, everything else RegisterChange. Any resulting
// ChangeInfo is forwarded to the processor.
func (c *CloudPoller) processChange(change *drive.Change) {
	m := c.repo.Manifest()

	if change.Removed || (change.File != nil && change.File.Trashed) {
		if ci, ok := m.RegisterRemoval(manifest.RepoCloud, change.FileId); ok {
			if c.repo.RecentlyWrittenBySelf(ci.NewPath, time.Now(), c.selfEchoWindow) {
				c.logger.Debug("suppressing removal matching this repository's own recent write",
					slog.String("path", ci.NewPath))

				return
			}

			c.processor.QueueChange(ci)
		}

		return
	}

	if change.File == nil {
		return
	}

	obs := observationFromDriveFile(m, change.File)

	ci, ok := m.RegisterChange(manifest.RepoCloud, obs)
	if !ok {
		return
	}

	if c.repo.RecentlyWrittenBySelf(ci.NewPath, time.Now(), c.selfEchoWindow) {
		c.logger.Debug("suppressing change feed entry matching this repository's own recent write",
			slog.String("path", ci.NewPath))

		return
	}

	c.processor.QueueChange(ci)
}

// observationFromDriveFile builds the Observation RegisterChange expects
// from one change-feed or metadata result, resolving the item's path via
// its parent's manifest entry — the single-item case of walking parent
// links.
func observationFromDriveFile(m *manifest.Manifest, f *drive.File) manifest.Observation {
	parentPath := ""
	if len(f.Parents) > 0 {
		parentPath, _ = m.FolderByID(f.Parents[0])
	}

	isFolder := f.MimeType == clouddrive.FolderMimeType

	obs := manifest.Observation{
		ID:       f.Id,
		Path:     joinPath(parentPath, f.Name),
		IsFolder: isFolder,
	}

	if !isFolder {
		obs.Size = f.Size
		obs.Modified = parseDriveTime(f.ModifiedTime)
		obs.Checksum = checksumOrUnknown(f.Md5Checksum)
	}

	return obs
}

func (c *CloudPoller) saveManifest() {
	if err := saveManifestFile(c.repo.Manifest(), cloudManifestFileName, c.processor.workDir); err != nil {
		c.logger.Error("failed to persist cloud manifest", slog.String("error", err.Error()))
	}
}

// sleepCtx sleeps for d or until ctx is done, returning true if ctx ended
// the sleep early.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
