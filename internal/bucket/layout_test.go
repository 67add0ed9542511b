package bucket_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/internal/bucket"
)

func TestLayoutPrefixesAndPaths(t *testing.T) {
	l := bucket.Layout{StorageRoot: "/data", Testnet: "mainnet"}

	require.Equal(t, "incremental/mainnet/", l.PersistencePrefix())
	require.Equal(t, "statedelta/mainnet/", l.StateDeltaPrefix())
	require.Equal(t, "blockchain-data/mainnet/", l.StaticDBPrefix())
	require.Equal(t, "blockchain-data/mainnet/mainnettar.gz", l.StaticDBKey())
	require.Equal(t, "incremental/mainnet/.lock", l.LockKey())
	require.Equal(t, "incremental/mainnet/.currentTxBlk", l.CurrentTxBlkKey())

	require.Equal(t, filepath.Join("/data", "persistence"), l.PersistencePath())
	require.Equal(t, filepath.Join("/data", "persistenceDiff"), l.PersistenceDiffPath())
	require.Equal(t, filepath.Join("/data", "StateDeltaFromS3"), l.StateDeltaPath())
	require.Equal(t, filepath.Join("/data", "historical-data"), l.StaticDBPath())
}

func TestLayoutLocalPath(t *testing.T) {
	l := bucket.Layout{StorageRoot: "/data", Testnet: "mainnet"}
	prefix := l.PersistencePrefix()

	testCases := map[string]struct {
		key  string
		want string
		ok   bool
	}{
		"flat file": {
			key:  "incremental/mainnet/foo",
			want: filepath.Join("/out", "foo"),
			ok:   true,
		},
		"nested file keeps structure": {
			key:  "incremental/mainnet/persistence/stateTrie/000001.ldb",
			want: filepath.Join("/out", "persistence", "stateTrie", "000001.ldb"),
			ok:   true,
		},
		"outside the prefix": {
			key: "statedelta/mainnet/foo",
			ok:  false,
		},
		"directory placeholder": {
			key: "incremental/mainnet/persistence/",
			ok:  false,
		},
		"prefix only": {
			key: "incremental/mainnet/",
			ok:  false,
		},
		"escapes the output root": {
			key: "incremental/mainnet/../../etc/passwd",
			ok:  false,
		},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			got, ok := l.LocalPath("/out", prefix, tc.key)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}
