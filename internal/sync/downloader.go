// Package sync implements the persistence synchronizer: it bootstraps a
// local replica of a node's on-disk state from a remote bucket and then
// advances it through full snapshots and block-range diffs until the replica
// matches the producer's tip.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zilliqa/persistence-sync/internal/archive"
	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/pool"
	"github.com/zilliqa/persistence-sync/libs/log"
	tmos "github.com/zilliqa/persistence-sync/libs/os"
)

// DefaultDownloadThreads is the download worker pool size.
const DefaultDownloadThreads = 50

const (
	diffPersistencePrefix = "diff_persistence_"
	stateDeltaPrefix      = "stateDelta_"
)

var (
	// ErrTipRegressed means the producer's tip moved backwards across a
	// snapshot. The bucket is unusable; a human has to look at it.
	ErrTipRegressed = errors.New("tx block tip regressed")

	// ErrTipUnreadable means the tip pointer disappeared or turned to
	// garbage between the start and the end of a snapshot.
	ErrTipUnreadable = errors.New("tx block tip unreadable after snapshot")
)

// Downloader drives the replica through the sync state machine. It owns the
// storage root exclusively for the duration of Start; a partially populated
// replica left by a crash is simply overwritten on the next run.
type Downloader struct {
	logger     log.Logger
	client     bucket.Client
	layout     bucket.Layout
	rendezvous *bucket.Rendezvous
	pool       *pool.Pool
	metrics    *Metrics

	excludeMicroBlocks bool

	// epochLength is NUM_DSBLOCK * NUM_FINAL_BLOCK_PER_POW. Zero means the
	// chain constants are not configured; in that case every tip advance
	// forces a fresh snapshot instead of applying diffs, since a diff
	// applied across a snapshot rotation would reference missing ancestors.
	epochLength uint64
}

// DownloaderOption customizes a Downloader.
type DownloaderOption func(*Downloader)

// WithMetrics attaches metrics; the default is NopMetrics.
func WithMetrics(m *Metrics) DownloaderOption {
	return func(d *Downloader) { d.metrics = m }
}

// WithDSEpochLength enables the diff path by supplying the chain's DS-epoch
// length in tx blocks (NUM_DSBLOCK * NUM_FINAL_BLOCK_PER_POW).
func WithDSEpochLength(numDSBlock, numFinalBlockPerPOW uint64) DownloaderOption {
	return func(d *Downloader) { d.epochLength = numDSBlock * numFinalBlockPerPOW }
}

// WithExcludeMicroBlocks drops micro-block content classes from snapshot
// listings.
func WithExcludeMicroBlocks(exclude bool) DownloaderOption {
	return func(d *Downloader) { d.excludeMicroBlocks = exclude }
}

// WithRendezvous substitutes the producer rendezvous, letting tests shorten
// the probe interval.
func WithRendezvous(r *bucket.Rendezvous) DownloaderOption {
	return func(d *Downloader) { d.rendezvous = r }
}

func NewDownloader(logger log.Logger, client bucket.Client, layout bucket.Layout, threads int,
	opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		logger:     logger,
		client:     client,
		layout:     layout,
		rendezvous: bucket.NewRendezvous(logger, client, layout),
		pool:       pool.New(threads),
		metrics:    NopMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the sync to completion. It returns nil once the replica is up
// to date with the tip observed at the start of the most recent snapshot,
// a tip error if the bucket violates its invariants, or the context error
// if canceled. Per-object download failures never surface here.
func (d *Downloader) Start(ctx context.Context) error {
	if err := d.hydrateStaticDB(ctx); err != nil {
		return err
	}

	for {
		startTip, err := d.rendezvous.AwaitQuiescentTip(ctx)
		if err != nil {
			return err
		}
		d.logger.Info("current Tx block", "height", startTip)

		if err := d.downloadSnapshot(ctx); err != nil {
			return err
		}
		d.metrics.SnapshotRounds.Add(1)

		newTip, ok := d.rendezvous.CurrentTxBlkNum(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrTipUnreadable
		}

		switch {
		case newTip < startTip:
			return fmt.Errorf("%w: %d -> %d", ErrTipRegressed, startTip, newTip)

		case newTip == startTip:
			d.metrics.CurrentTxBlock.Set(float64(newTip))
			d.logger.Info("replica up to date", "height", newTip)
			return nil

		case d.restartRequired(startTip, newTip):
			d.logger.Info("snapshot rotated during sync; starting over",
				"start_tip", startTip, "new_tip", newTip)

		default:
			// half-open range: blocks startTip+1 .. newTip inclusive
			if err := d.applyDiffs(ctx, startTip+1, newTip+1); err != nil {
				return err
			}
			d.metrics.CurrentTxBlock.Set(float64(newTip))
			d.logger.Info("applied diffs", "from", startTip+1, "to", newTip)
		}
	}
}

// restartRequired reports whether startTip and newTip fall into different DS
// epochs, meaning the remote snapshot has been rotated underneath us.
func (d *Downloader) restartRequired(startTip, newTip uint64) bool {
	if d.epochLength == 0 {
		// Without the chain constants we cannot detect rotations, so
		// treat every advance as one and resync from a fresh snapshot.
		return true
	}
	return newTip/d.epochLength != startTip/d.epochLength
}

// hydrateStaticDB fetches and extracts the historical-data archive. A
// missing archive is fine; a failed download is logged and left for the
// next run, matching the per-object failure policy.
func (d *Downloader) hydrateStaticDB(ctx context.Context) error {
	key := d.layout.StaticDBKey()

	meta, err := d.client.GetMetadata(ctx, key)
	if errors.Is(err, bucket.ErrObjectNotFound) {
		d.logger.Info("no static DB archive in bucket; skipping", "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("probing static DB archive: %w", err)
	}

	dest := d.layout.StaticDBPath()
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("cleaning %q: %w", dest, err)
	}
	if err := tmos.EnsureDir(dest, 0o755); err != nil {
		return err
	}

	res := d.fetchOne(ctx, bucket.ObjectRef{Key: key, CRC32C: meta.CRC32C}, d.layout.StaticDBPrefix(), dest)
	if !res.OK() {
		d.logger.Error("static DB download failed; continuing without historical data", "key", key)
		return nil
	}

	return d.extract(dest, dest)
}

// downloadSnapshot executes the full snapshot phase. Persistence objects are
// plain files and their downloads overlap with the state-delta phase; state
// deltas are archives and must all be on disk before extraction starts.
func (d *Downloader) downloadSnapshot(ctx context.Context) (err error) {
	layout := d.layout

	if err := os.RemoveAll(layout.PersistencePath()); err != nil {
		return fmt.Errorf("cleaning %q: %w", layout.PersistencePath(), err)
	}
	if err := os.RemoveAll(layout.PersistenceDiffPath()); err != nil {
		return fmt.Errorf("cleaning %q: %w", layout.PersistenceDiffPath(), err)
	}
	if err := tmos.EnsureDir(layout.StoragePath(), 0o755); err != nil {
		return err
	}

	policy := bucket.FilterPolicy{ExcludeMicroBlocks: d.excludeMicroBlocks}

	persistenceRefs, err := d.listFiltered(ctx, layout.PersistencePrefix(), policy)
	if err != nil {
		return err
	}
	persistenceBatch := d.dispatch(ctx, persistenceRefs, layout.PersistencePrefix(), layout.StoragePath())
	// barrier B: persistence downloads finish before the snapshot phase
	// ends, including on the error paths below
	defer persistenceBatch.Wait()

	if err := os.RemoveAll(layout.StateDeltaPath()); err != nil {
		return fmt.Errorf("cleaning %q: %w", layout.StateDeltaPath(), err)
	}
	if err := tmos.EnsureDir(layout.StateDeltaPath(), 0o755); err != nil {
		return err
	}

	deltaRefs, err := d.listFiltered(ctx, layout.StateDeltaPrefix(), policy)
	if err != nil {
		return err
	}

	// barrier A: every state delta is on disk before extraction begins
	d.dispatch(ctx, deltaRefs, layout.StateDeltaPrefix(), layout.StateDeltaPath()).Wait()

	return d.extract(layout.StateDeltaPath(), layout.StateDeltaPath())
}

// applyDiffs advances the replica by the half-open tx-block range
// [fromTxBlk, toTxBlk).
func (d *Downloader) applyDiffs(ctx context.Context, fromTxBlk, toTxBlk uint64) error {
	layout := d.layout

	// persistence diffs are extracted into a staging directory and merged
	// into the live replica
	err := d.downloadDiffs(ctx, fromTxBlk, toTxBlk, layout.PersistencePrefix(),
		diffPersistencePrefix, layout.PersistenceDiffPath())
	if err != nil {
		return err
	}
	if err := mergeDiffDirs(d.logger, layout.PersistenceDiffPath(), layout.PersistencePath()); err != nil {
		return err
	}

	// state-delta diffs extract in place, no merge step
	return d.downloadDiffs(ctx, fromTxBlk, toTxBlk, layout.StateDeltaPrefix(),
		stateDeltaPrefix, layout.StateDeltaPath())
}

func (d *Downloader) downloadDiffs(ctx context.Context, fromTxBlk, toTxBlk uint64,
	prefix, fileNamePrefix, downloadPath string) error {
	refs, err := d.client.ListByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("listing %q: %w", prefix, err)
	}

	matched, err := bucket.MatchDiffs(refs, fileNamePrefix, fromTxBlk, toTxBlk)
	if err != nil {
		return err
	}

	if err := tmos.EnsureDir(downloadPath, 0o755); err != nil {
		return err
	}

	d.dispatch(ctx, matched, prefix, downloadPath).Wait()

	if err := d.extract(downloadPath, downloadPath); err != nil {
		return err
	}

	d.metrics.DiffsApplied.Add(float64(len(matched)))
	return nil
}

func (d *Downloader) extract(dir, dest string) error {
	n, err := archive.ExtractGzippedFiles(d.logger, dir, dest)
	if err != nil {
		return err
	}
	d.metrics.ArchivesExtracted.Add(float64(n))
	return nil
}

func (d *Downloader) listFiltered(ctx context.Context, prefix string, policy bucket.FilterPolicy) ([]bucket.ObjectRef, error) {
	refs, err := d.client.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}
	return bucket.Filter(refs, policy), nil
}

// dispatch submits one download task per ref and returns the batch so the
// caller chooses where to barrier.
func (d *Downloader) dispatch(ctx context.Context, refs []bucket.ObjectRef, prefix, outputRoot string) *pool.Batch {
	batch := d.pool.NewBatch(ctx)
	for _, ref := range refs {
		ref := ref
		batch.Submit(func(ctx context.Context) {
			d.fetchOne(ctx, ref, prefix, outputRoot)
		})
	}
	return batch
}

func (d *Downloader) fetchOne(ctx context.Context, ref bucket.ObjectRef, prefix, outputRoot string) FetchResult {
	res := fetchObject(ctx, d.logger, d.client, d.layout, ref, prefix, outputRoot)
	if res.OK() {
		d.metrics.ObjectsFetched.Add(1)
		d.metrics.BytesFetched.Add(float64(res.Bytes))
	} else {
		d.metrics.ObjectsSkipped.Add(1)
	}
	return res
}
