package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/bucket/buckettest"
	"github.com/zilliqa/persistence-sync/libs/log"
)

func newRendezvous(t *testing.T, client bucket.Client, layout bucket.Layout) *bucket.Rendezvous {
	t.Helper()
	return bucket.NewRendezvous(log.NewTestingLogger(t), client, layout).
		WithWaitInterval(10 * time.Millisecond)
}

func TestIsUploadOngoing(t *testing.T) {
	ctx := context.Background()
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	client := buckettest.NewMemoryClient("bucket")
	r := newRendezvous(t, client, layout)

	require.False(t, r.IsUploadOngoing(ctx))

	client.Put(layout.LockKey(), nil)
	require.True(t, r.IsUploadOngoing(ctx))

	client.Remove(layout.LockKey())
	require.False(t, r.IsUploadOngoing(ctx))
}

func TestCurrentTxBlkNumParsing(t *testing.T) {
	ctx := context.Background()
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	client := buckettest.NewMemoryClient("bucket")
	r := newRendezvous(t, client, layout)

	// missing sentinel
	_, ok := r.CurrentTxBlkNum(ctx)
	require.False(t, ok)

	testCases := map[string]struct {
		content string
		want    uint64
		ok      bool
	}{
		"plain":                {"42", 42, true},
		"trailing newline":     {"42\n", 42, true},
		"surrounding spaces":   {"  42  ", 42, true},
		"negative":             {"-1", 0, false},
		"trailing garbage":     {"42x", 0, false},
		"empty":                {"", 0, false},
		"hex":                  {"0xA", 0, false},
		"explicit plus sign":   {"+42", 0, false},
		"interior whitespace":  {"42 43", 0, false},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			client.Put(layout.CurrentTxBlkKey(), []byte(tc.content))

			got, ok := r.CurrentTxBlkNum(ctx)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestAwaitQuiescentTipWaitsForLock(t *testing.T) {
	ctx := context.Background()
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	client := buckettest.NewMemoryClient("bucket")
	r := newRendezvous(t, client, layout)

	client.Put(layout.LockKey(), nil)
	client.Put(layout.CurrentTxBlkKey(), []byte("100"))

	start := time.Now()
	go func() {
		time.Sleep(40 * time.Millisecond)
		client.Remove(layout.LockKey())
	}()

	tip, err := r.AwaitQuiescentTip(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), tip)
	// at least two probe intervals elapsed while the lock was held
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitQuiescentTipHonorsContext(t *testing.T) {
	layout := bucket.Layout{StorageRoot: t.TempDir(), Testnet: "test"}
	client := buckettest.NewMemoryClient("bucket")
	r := newRendezvous(t, client, layout)

	// no tip sentinel: the rendezvous would spin forever
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.AwaitQuiescentTip(ctx)
	require.Error(t, err)
}
