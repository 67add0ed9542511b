package bucket

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Client implementations when the requested
// key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectRef identifies a remote object together with the CRC32C integrity tag
// advertised by the store (base64-encoded, big-endian).
type ObjectRef struct {
	Key    string
	CRC32C string
}

// ObjectMeta is the server-side metadata of a stored object.
type ObjectMeta struct {
	Key    string
	Size   int64
	CRC32C string
}

// Client is the minimal surface of a remote object store that the
// synchronizer needs. Implementations are bound to a single bucket and must
// be safe for concurrent use; every caller owns its own listing cursor.
type Client interface {
	// Name returns the bucket name, used for reporting only.
	Name() string

	// GetMetadata fetches the metadata of a single object. It returns
	// ErrObjectNotFound if the key does not exist.
	GetMetadata(ctx context.Context, key string) (ObjectMeta, error)

	// ReadObject opens the object's content for sequential reading.
	ReadObject(ctx context.Context, key string) (io.ReadCloser, error)

	// ListByPrefix enumerates every object whose key starts with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]ObjectRef, error)
}

// Writer is the mutating half of the object store, needed only by the
// uploader. Kept separate so the downloader cannot touch bucket state.
type Writer interface {
	// WriteObject stores the content read from r under key, replacing any
	// existing object.
	WriteObject(ctx context.Context, key string, r io.Reader) error

	// DeleteObject removes the object. Deleting a missing key is not an
	// error.
	DeleteObject(ctx context.Context, key string) error
}
