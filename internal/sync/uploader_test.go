package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/bucket/buckettest"
	"github.com/zilliqa/persistence-sync/libs/log"
)

func newTestUploader(t *testing.T) (*Uploader, *buckettest.MemoryClient, bucket.Layout) {
	t.Helper()

	client := buckettest.NewMemoryClient("test-bucket")
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	u := NewUploader(log.NewTestingLogger(t), client, layout, UploaderConfig{
		TxBlkTime: 10 * time.Millisecond,
		DSBlkTime: time.Hour,
		Backup:    true,
		Threads:   4,
	})
	return u, client, layout
}

func TestUploadIncremental(t *testing.T) {
	u, client, layout := newTestUploader(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(layout.StoragePath(), "currentTxBlk"), "7")
	writeFile(t, filepath.Join(layout.StateDeltaPath(), "stateDelta_7.tar.gz"), "archive bytes")

	require.NoError(t, u.uploadIncremental(ctx))

	// the state delta reached the bucket under its prefix
	rc, err := client.ReadObject(ctx, layout.StateDeltaPrefix()+"stateDelta_7.tar.gz")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "archive bytes", string(data))

	// the tip pointer was advanced and the lock released
	rc, err = client.ReadObject(ctx, layout.CurrentTxBlkKey())
	require.NoError(t, err)
	tip, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "7", string(tip))

	_, err = client.GetMetadata(ctx, layout.LockKey())
	require.ErrorIs(t, err, bucket.ErrObjectNotFound)

	// the published tip is remembered locally
	data, err = os.ReadFile(filepath.Join(layout.StoragePath(), uploadedTxBlkFile))
	require.NoError(t, err)
	require.Equal(t, "7", string(data))

	// a second cycle with the same node tip uploads nothing new
	require.NoError(t, u.uploadIncremental(ctx))
}

func TestUploadIncrementalSkipsStaleTip(t *testing.T) {
	u, client, layout := newTestUploader(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(layout.StoragePath(), "currentTxBlk"), "5")
	writeFile(t, filepath.Join(layout.StoragePath(), uploadedTxBlkFile), "9")
	writeFile(t, filepath.Join(layout.StateDeltaPath(), "stateDelta_5.tar.gz"), "stale")

	require.NoError(t, u.uploadIncremental(ctx))

	_, err := client.GetMetadata(ctx, layout.CurrentTxBlkKey())
	require.ErrorIs(t, err, bucket.ErrObjectNotFound, "a stale tip must not be republished")
}

func TestUploadSnapshot(t *testing.T) {
	u, client, layout := newTestUploader(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(layout.PersistencePath(), "txBlocks", "000001"), "block one")
	writeFile(t, filepath.Join(layout.PersistencePath(), "stateTrie", "leaf"), "trie leaf")

	require.NoError(t, u.uploadSnapshot(ctx))

	refs, err := client.ListByPrefix(ctx, layout.PersistencePrefix())
	require.NoError(t, err)

	var listed []string
	for _, ref := range refs {
		listed = append(listed, ref.Key)
	}
	require.ElementsMatch(t, []string{
		layout.PersistencePrefix() + "persistence/txBlocks/000001",
		layout.PersistencePrefix() + "persistence/stateTrie/leaf",
	}, listed)
}

func TestWithLockReleasesOnFailure(t *testing.T) {
	u, client, layout := newTestUploader(t)
	ctx := context.Background()

	failure := os.ErrPermission
	err := u.withLock(ctx, func() error {
		// the lock is held while the body runs
		_, lerr := client.GetMetadata(ctx, layout.LockKey())
		require.NoError(t, lerr)
		return failure
	})
	require.ErrorIs(t, err, failure)

	_, err = client.GetMetadata(ctx, layout.LockKey())
	require.ErrorIs(t, err, bucket.ErrObjectNotFound)
}

func TestUploaderNotifiesWebhook(t *testing.T) {
	notified := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		notified <- body
	}))
	defer srv.Close()

	client := buckettest.NewMemoryClient("test-bucket")
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	u := NewUploader(log.NewTestingLogger(t), client, layout, UploaderConfig{
		WebhookURL: srv.URL,
		TxBlkTime:  time.Hour,
		DSBlkTime:  time.Hour,
		Backup:     true,
	})

	u.notifyWebhook(context.Background(), os.ErrDeadlineExceeded)

	select {
	case body := <-notified:
		require.Contains(t, string(body), "test")
	case <-time.After(time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestUploaderServiceLifecycle(t *testing.T) {
	u, client, layout := newTestUploader(t)

	writeFile(t, filepath.Join(layout.StoragePath(), "currentTxBlk"), "3")
	writeFile(t, filepath.Join(layout.StateDeltaPath(), "stateDelta_3.tar.gz"), "bytes")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, u.Start(ctx))

	// a few tx-block ticks pass
	require.Eventually(t, func() bool {
		_, err := client.GetMetadata(context.Background(), layout.CurrentTxBlkKey())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, u.Stop())
}
