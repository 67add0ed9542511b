package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/checksum"
	"github.com/zilliqa/persistence-sync/libs/log"
)

// FileChunkSizeBytes is the read granularity for object streams.
const FileChunkSizeBytes = 512 * 1024

// FetchResult reports the outcome of one object download. An empty LocalPath
// means the object was skipped (stream error, checksum mismatch, or an
// unusable key); per-object failures never abort a phase.
type FetchResult struct {
	Bucket    string
	LocalPath string
	Bytes     int64
}

// OK reports whether the object was fetched and verified.
func (r FetchResult) OK() bool { return r.LocalPath != "" }

// fetchObject downloads a single object below outputRoot, verifying its
// CRC32C end to end. The local path is the key relative to prefix; on any
// failure the partially written file is unlinked so only verified files
// remain on disk.
func fetchObject(ctx context.Context, logger log.Logger, client bucket.Client, layout bucket.Layout,
	ref bucket.ObjectRef, prefix, outputRoot string) FetchResult {
	failed := FetchResult{Bucket: client.Name()}

	filePath, ok := layout.LocalPath(outputRoot, prefix, ref.Key)
	if !ok {
		logger.Error("can't infer file name; skipping...", "key", ref.Key, "bucket", client.Name())
		return failed
	}

	rc, err := client.ReadObject(ctx, ref.Key)
	if err != nil {
		logger.Error("can't download bucket object; skipping...", "key", ref.Key, "bucket", client.Name(), "err", err)
		return failed
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		logger.Error("can't create output directory; skipping...", "key", ref.Key, "err", err)
		return failed
	}

	out, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		logger.Error("can't open output file; skipping...", "path", filePath, "err", err)
		return failed
	}

	crc := checksum.New()
	written, err := copyChunks(ctx, out, io.TeeReader(rc, crc))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Error("download stream failed; skipping...", "key", ref.Key, "err", err)
		os.Remove(filePath)
		return failed
	}

	if !crc.Matches(ref.CRC32C) {
		logger.Error("CRC32C mismatch; skipping...", "key", ref.Key, "bucket", client.Name())
		os.Remove(filePath)
		return failed
	}

	logger.Debug("fetched object", "key", ref.Key, "bytes", written, "path", filePath)
	return FetchResult{Bucket: client.Name(), LocalPath: filePath, Bytes: written}
}

// copyChunks copies src to dst in fixed-size chunks, checking ctx between
// chunks so a canceled sync stops promptly mid-object.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, FileChunkSizeBytes)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w < n {
				return written, io.ErrShortWrite
			}
		}

		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
