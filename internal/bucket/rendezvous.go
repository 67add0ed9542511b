package bucket

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/zilliqa/persistence-sync/libs/log"
)

// DefaultWaitInterval is the pause between sentinel probes while the producer
// is busy or its tip pointer is unreadable.
const DefaultWaitInterval = 2 * time.Second

// Rendezvous coordinates with the remote producer through its two sentinel
// objects: the upload lock and the current tx-block pointer. The sentinels
// are written by a separate process and may be observed torn; every probe is
// strict and failures are retried, never propagated.
type Rendezvous struct {
	logger       log.Logger
	client       Client
	layout       Layout
	waitInterval time.Duration
}

func NewRendezvous(logger log.Logger, client Client, layout Layout) *Rendezvous {
	return &Rendezvous{
		logger:       logger,
		client:       client,
		layout:       layout,
		waitInterval: DefaultWaitInterval,
	}
}

// WithWaitInterval overrides the probe interval. Used by tests.
func (r *Rendezvous) WithWaitInterval(d time.Duration) *Rendezvous {
	r.waitInterval = d
	return r
}

// IsUploadOngoing reports whether the producer currently holds the upload
// lock. Any failure to fetch the lock's metadata counts as "not locked".
func (r *Rendezvous) IsUploadOngoing(ctx context.Context) bool {
	_, err := r.client.GetMetadata(ctx, r.layout.LockKey())
	return err == nil
}

// CurrentTxBlkNum reads the producer's tip pointer. The value must be a bare
// unsigned decimal, optionally surrounded by whitespace; anything else
// (a sign, trailing garbage, an empty object, a read failure) yields ok ==
// false and the caller retries.
func (r *Rendezvous) CurrentTxBlkNum(ctx context.Context) (uint64, bool) {
	rc, err := r.client.ReadObject(ctx, r.layout.CurrentTxBlkKey())
	if err != nil {
		return 0, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, false
	}

	return parseTxBlkNum(string(data))
}

func parseTxBlkNum(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '-' || s[0] == '+' {
		return 0, false
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// AwaitQuiescentTip blocks until the producer is not uploading and its tip
// pointer is readable, then returns the tip. It only fails when ctx ends.
func (r *Rendezvous) AwaitQuiescentTip(ctx context.Context) (uint64, error) {
	for r.IsUploadOngoing(ctx) {
		r.logger.Info("waiting for persistence upload to finish...")
		if err := r.sleep(ctx); err != nil {
			return 0, err
		}
	}

	for {
		if tip, ok := r.CurrentTxBlkNum(ctx); ok {
			return tip, nil
		}

		r.logger.Error("no current Tx block found...")
		if err := r.sleep(ctx); err != nil {
			return 0, err
		}
	}
}

func (r *Rendezvous) sleep(ctx context.Context) error {
	timer := time.NewTimer(r.waitInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("interrupted while waiting for producer: %w", ctx.Err())
	}
}
