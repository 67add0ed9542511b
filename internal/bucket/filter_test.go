package bucket_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/internal/bucket"
)

func refs(keys ...string) []bucket.ObjectRef {
	out := make([]bucket.ObjectRef, len(keys))
	for i, k := range keys {
		out[i] = bucket.ObjectRef{Key: k}
	}
	return out
}

func keys(refs []bucket.ObjectRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Key
	}
	return out
}

func TestFilterExcludesDiffsByDefault(t *testing.T) {
	in := refs(
		"incremental/test/persistence/a",
		"incremental/test/diff_persistence_5.tar.gz",
		"incremental/test/persistence/b",
	)

	out := bucket.Filter(in, bucket.FilterPolicy{})
	require.Equal(t, []string{
		"incremental/test/persistence/a",
		"incremental/test/persistence/b",
	}, keys(out))

	out = bucket.Filter(in, bucket.FilterPolicy{IncludeDiffs: true})
	require.Len(t, out, 3)
}

func TestFilterExcludesMicroBlockClasses(t *testing.T) {
	in := refs(
		"incremental/test/persistence/txEpochs/0001",
		"incremental/test/persistence/txBodies/0001",
		"incremental/test/persistence/microBlockKeys/0001",
		"incremental/test/persistence/minerInfoDSComm/0001",
		"incremental/test/persistence/stateTrie/0001",
	)

	out := bucket.Filter(in, bucket.FilterPolicy{ExcludeMicroBlocks: true})
	require.Equal(t, []string{"incremental/test/persistence/stateTrie/0001"}, keys(out))

	// matching is case-sensitive
	out = bucket.Filter(refs("incremental/test/persistence/TXEPOCHS/0001"),
		bucket.FilterPolicy{ExcludeMicroBlocks: true})
	require.Len(t, out, 1)

	// without the flag, micro-block content passes through
	out = bucket.Filter(in, bucket.FilterPolicy{})
	require.Len(t, out, 5)
}

func TestMatchDiffsRange(t *testing.T) {
	in := refs(
		"incremental/test/diff_persistence_5.tar.gz",
		"incremental/test/diff_persistence_6.tar.gz",
		"incremental/test/diff_persistence_7.tar.gz",
		"incremental/test/diff_persistence_8.tar.gz",
		"incremental/test/diff_persistence_9.tar.gz",
		"incremental/test/diff_persistence_10.tar.gz",
	)

	// startTip = 5, newTip = 8 gives the half-open range [6, 9)
	out, err := bucket.MatchDiffs(in, "diff_persistence_", 6, 9)
	require.NoError(t, err)
	require.Equal(t, []string{
		"incremental/test/diff_persistence_6.tar.gz",
		"incremental/test/diff_persistence_7.tar.gz",
		"incremental/test/diff_persistence_8.tar.gz",
	}, keys(out))
}

func TestMatchDiffsShape(t *testing.T) {
	in := refs(
		"statedelta/test/stateDelta_7.tar.gz",
		"statedelta/test/stateDelta_7.tar",       // wrong suffix
		"statedelta/test/stateDelta_x.tar.gz",    // not a number
		"stateDelta_7.tar.gz",                    // no directory component
		"statedelta/test/otherPrefix_7.tar.gz",   // wrong prefix
		"statedelta/test/stateDelta_7.tar.gz.bak", // trailing garbage
	)

	out, err := bucket.MatchDiffs(in, "stateDelta_", 0, 100)
	require.NoError(t, err)
	require.Equal(t, []string{"statedelta/test/stateDelta_7.tar.gz"}, keys(out))
}
