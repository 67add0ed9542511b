package bucket

import (
	"path/filepath"
	"strings"
)

// Layout derives every remote key prefix and local directory the synchronizer
// touches from a single (storage root, testnet name) pair. All methods are
// pure; Layout is safe to copy.
type Layout struct {
	StorageRoot string
	Testnet     string
}

// Remote key prefixes. These mirror the layout written by the uploader and
// are a read-only contract.

func (l Layout) PersistencePrefix() string { return "incremental/" + l.Testnet + "/" }
func (l Layout) StateDeltaPrefix() string  { return "statedelta/" + l.Testnet + "/" }
func (l Layout) StaticDBPrefix() string    { return "blockchain-data/" + l.Testnet + "/" }

// StaticDBKey is the single historical-data archive uploaded per testnet.
func (l Layout) StaticDBKey() string { return l.StaticDBPrefix() + l.Testnet + "tar.gz" }

// LockKey is the sentinel whose presence means an upload is in progress.
func (l Layout) LockKey() string { return l.PersistencePrefix() + ".lock" }

// CurrentTxBlkKey is the sentinel holding the producer's tip as UTF-8 decimal.
func (l Layout) CurrentTxBlkKey() string { return l.PersistencePrefix() + ".currentTxBlk" }

// Local directories.

func (l Layout) StoragePath() string         { return l.StorageRoot }
func (l Layout) PersistencePath() string     { return filepath.Join(l.StorageRoot, "persistence") }
func (l Layout) PersistenceDiffPath() string { return filepath.Join(l.StorageRoot, "persistenceDiff") }
func (l Layout) StateDeltaPath() string      { return filepath.Join(l.StorageRoot, "StateDeltaFromS3") }
func (l Layout) StaticDBPath() string        { return filepath.Join(l.StorageRoot, "historical-data") }

// LocalPath maps a listed key below a remote prefix to its destination under
// outputRoot, preserving any directory structure after the prefix. The second
// return value is false when the key cannot name a local file (key outside
// the prefix, or a directory placeholder).
func (l Layout) LocalPath(outputRoot, prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == key || rel == "" || strings.HasSuffix(rel, "/") {
		return "", false
	}

	// reject keys that would escape the output root
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", false
	}

	return filepath.Join(outputRoot, clean), true
}
