package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/libs/log"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMergeDiffDirs(t *testing.T) {
	staging := t.TempDir()
	live := t.TempDir()

	writeFile(t, filepath.Join(staging, "txBlocks", "000101"), "new block")
	writeFile(t, filepath.Join(staging, "stateTrie", "nested", "leaf"), "new leaf")
	// top-level regular files in staging are not part of any DB and are
	// not merged
	writeFile(t, filepath.Join(staging, "stray.txt"), "ignored")

	writeFile(t, filepath.Join(live, "txBlocks", "000100"), "old block")
	writeFile(t, filepath.Join(live, "txBlocks", "000101"), "stale block")

	require.NoError(t, mergeDiffDirs(log.NewTestingLogger(t), staging, live))

	// new entries are added, existing ones overwritten, unrelated ones kept
	for path, want := range map[string]string{
		"txBlocks/000100":       "old block",
		"txBlocks/000101":       "new block",
		"stateTrie/nested/leaf": "new leaf",
	} {
		data, err := os.ReadFile(filepath.Join(live, filepath.FromSlash(path)))
		require.NoError(t, err)
		require.Equal(t, want, string(data))
	}

	_, err := os.Stat(filepath.Join(live, "stray.txt"))
	require.True(t, os.IsNotExist(err))

	// staging is gone afterwards
	_, err = os.Stat(staging)
	require.True(t, os.IsNotExist(err))
}

func TestMergeDiffDirsMissingStaging(t *testing.T) {
	live := t.TempDir()
	err := mergeDiffDirs(log.NewTestingLogger(t), filepath.Join(live, "does-not-exist"), live)
	require.Error(t, err)
}
