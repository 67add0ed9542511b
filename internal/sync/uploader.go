package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/atomicfile"
	"golang.org/x/sync/errgroup"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/pool"
	"github.com/zilliqa/persistence-sync/libs/log"
	"github.com/zilliqa/persistence-sync/libs/service"
)

// DefaultUploadThreads is the upload worker pool size.
const DefaultUploadThreads = 10

// uploadedTxBlkFile records the last tip this uploader published, so a
// restarted uploader does not republish an older tip over a newer one.
const uploadedTxBlkFile = ".uploadedTxBlk"

// BucketWriter is the full client surface the uploader needs.
type BucketWriter interface {
	bucket.Client
	bucket.Writer
}

// UploaderConfig carries the uploader's tunables.
type UploaderConfig struct {
	// WebhookURL, when non-empty, receives a JSON message for every failed
	// upload cycle.
	WebhookURL string

	// TxBlkTime is the cadence of incremental uploads (state deltas plus
	// the tip pointer).
	TxBlkTime time.Duration

	// DSBlkTime is the cadence of full persistence snapshot uploads.
	DSBlkTime time.Duration

	// Backup controls whether uploads run at all; a non-backup node keeps
	// the service alive but idle so it can be toggled without redeploying.
	Backup bool

	Threads int
}

// Uploader periodically publishes the node's persistence state to the
// bucket, maintaining the sentinel protocol the downloader relies on: the
// lock is taken before any bucket mutation, the tip pointer is written last,
// and the lock is released afterwards.
type Uploader struct {
	service.BaseService

	logger log.Logger
	client BucketWriter
	layout bucket.Layout
	cfg    UploaderConfig
	pool   *pool.Pool
	http   *http.Client

	// CurrentTxBlk returns the node's current tx block. The default reads
	// the plain-text "currentTxBlk" file the node maintains next to its
	// persistence directory.
	CurrentTxBlk func() (uint64, error)
}

func NewUploader(logger log.Logger, client BucketWriter, layout bucket.Layout, cfg UploaderConfig) *Uploader {
	if cfg.Threads < 1 {
		cfg.Threads = DefaultUploadThreads
	}

	u := &Uploader{
		logger: logger,
		client: client,
		layout: layout,
		cfg:    cfg,
		pool:   pool.New(cfg.Threads),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
	u.CurrentTxBlk = u.readNodeTxBlk
	u.BaseService = *service.NewBaseService(logger, "Uploader", u)
	return u
}

func (u *Uploader) OnStart(ctx context.Context) error {
	if !u.cfg.Backup {
		u.logger.Info("backup disabled; uploader idle")
		return nil
	}

	go func() {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return u.tick(ctx, u.cfg.TxBlkTime, u.uploadIncremental) })
		g.Go(func() error { return u.tick(ctx, u.cfg.DSBlkTime, u.uploadSnapshot) })
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			u.logger.Error("uploader stopped", "err", err)
		}
	}()

	return nil
}

func (u *Uploader) OnStop() {}

func (u *Uploader) tick(ctx context.Context, every time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				u.logger.Error("upload cycle failed", "err", err)
				u.notifyWebhook(ctx, err)
			}
		}
	}
}

// uploadIncremental publishes the state deltas produced since the last
// cycle and advances the tip pointer.
func (u *Uploader) uploadIncremental(ctx context.Context) error {
	tip, err := u.CurrentTxBlk()
	if err != nil {
		return fmt.Errorf("reading node tx block: %w", err)
	}

	last := u.readUploadedTxBlk()
	if tip <= last {
		u.logger.Debug("no new tx blocks to upload", "tip", tip, "uploaded", last)
		return nil
	}

	if err := u.withLock(ctx, func() error {
		if err := u.uploadDir(ctx, u.layout.StateDeltaPath(), u.layout.StateDeltaPrefix()); err != nil {
			return err
		}
		return u.writeTip(ctx, tip)
	}); err != nil {
		return err
	}

	return u.writeUploadedTxBlk(tip)
}

// uploadSnapshot publishes the full persistence directory under
// <persistence prefix>persistence/, where the downloader expects it.
func (u *Uploader) uploadSnapshot(ctx context.Context) error {
	return u.withLock(ctx, func() error {
		return u.uploadDir(ctx, u.layout.PersistencePath(), u.layout.PersistencePrefix()+"persistence/")
	})
}

// withLock brackets fn with the upload lock so readers never observe a
// half-written bucket. The lock is removed even when fn fails.
func (u *Uploader) withLock(ctx context.Context, fn func() error) error {
	if err := u.client.WriteObject(ctx, u.layout.LockKey(), strings.NewReader("")); err != nil {
		return fmt.Errorf("taking upload lock: %w", err)
	}

	ferr := fn()

	if err := u.client.DeleteObject(ctx, u.layout.LockKey()); err != nil {
		u.logger.Error("failed to release upload lock", "err", err)
		if ferr == nil {
			ferr = err
		}
	}

	return ferr
}

func (u *Uploader) writeTip(ctx context.Context, tip uint64) error {
	key := u.layout.CurrentTxBlkKey()
	if err := u.client.WriteObject(ctx, key, strings.NewReader(strconv.FormatUint(tip, 10))); err != nil {
		return fmt.Errorf("writing tip pointer: %w", err)
	}
	return nil
}

// uploadDir uploads every regular file below dir under prefix, in parallel.
// Per-file failures are logged and skipped, mirroring the downloader.
func (u *Uploader) uploadDir(ctx context.Context, dir, prefix string) error {
	batch := u.pool.NewBatch(ctx)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := prefix + filepath.ToSlash(rel)

		batch.Submit(func(ctx context.Context) {
			f, err := os.Open(path)
			if err != nil {
				u.logger.Error("can't open file for upload; skipping...", "path", path, "err", err)
				return
			}
			defer f.Close()

			if err := u.client.WriteObject(ctx, key, f); err != nil {
				u.logger.Error("can't upload object; skipping...", "key", key, "err", err)
			}
		})

		return nil
	})

	batch.Wait()

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walking %q: %w", dir, err)
	}
	return nil
}

func (u *Uploader) readNodeTxBlk() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(u.layout.StoragePath(), "currentTxBlk"))
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed node tx block: %w", err)
	}
	return n, nil
}

func (u *Uploader) uploadedTxBlkPath() string {
	return filepath.Join(u.layout.StoragePath(), uploadedTxBlkFile)
}

func (u *Uploader) readUploadedTxBlk() uint64 {
	data, err := os.ReadFile(u.uploadedTxBlkPath())
	if err != nil {
		return 0
	}

	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// writeUploadedTxBlk persists the published tip atomically so a crash
// between write and rename cannot leave a torn record.
func (u *Uploader) writeUploadedTxBlk(tip uint64) error {
	return atomicfile.WriteData(u.uploadedTxBlkPath(), []byte(strconv.FormatUint(tip, 10)), 0o644)
}

func (u *Uploader) notifyWebhook(ctx context.Context, cause error) {
	if u.cfg.WebhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("persistence upload for %q failed: %v", u.layout.Testnet, cause),
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		u.logger.Error("webhook request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		u.logger.Error("webhook notification failed", "err", err)
		return
	}
	resp.Body.Close()
}
