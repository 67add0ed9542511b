// Package buckettest provides an in-memory bucket.Client implementation for
// tests: objects are plain byte slices, integrity tags are computed on Put,
// and both the tags and the delivered bytes can be corrupted on purpose.
package buckettest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/checksum"
)

type object struct {
	data   []byte
	crc32c string
}

// MemoryClient is a thread-safe, in-memory object store bound to a single
// bucket name. It implements bucket.Client and bucket.Writer.
type MemoryClient struct {
	name string

	mtx     sync.Mutex
	objects map[string]object

	// ReadHook, when set, intercepts the payload delivered by ReadObject
	// without touching the stored object. Used to simulate torn reads.
	ReadHook func(key string, data []byte) []byte
}

var (
	_ bucket.Client = (*MemoryClient)(nil)
	_ bucket.Writer = (*MemoryClient)(nil)
)

func NewMemoryClient(name string) *MemoryClient {
	return &MemoryClient{
		name:    name,
		objects: make(map[string]object),
	}
}

func (c *MemoryClient) Name() string { return c.name }

// Put stores data under key with a correct CRC32C tag.
func (c *MemoryClient) Put(key string, data []byte) {
	c.PutWithCRC(key, data, checksum.EncodeCRC32C(checksum.Sum(data)))
}

// PutWithCRC stores data with an arbitrary integrity tag, letting tests
// advertise a corrupt checksum.
func (c *MemoryClient) PutWithCRC(key string, data []byte, crc32c string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.objects[key] = object{data: append([]byte(nil), data...), crc32c: crc32c}
}

// Remove deletes key if present.
func (c *MemoryClient) Remove(key string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.objects, key)
}

func (c *MemoryClient) GetMetadata(_ context.Context, key string) (bucket.ObjectMeta, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	obj, ok := c.objects[key]
	if !ok {
		return bucket.ObjectMeta{}, bucket.ErrObjectNotFound
	}

	return bucket.ObjectMeta{Key: key, Size: int64(len(obj.data)), CRC32C: obj.crc32c}, nil
}

func (c *MemoryClient) ReadObject(_ context.Context, key string) (io.ReadCloser, error) {
	c.mtx.Lock()
	obj, ok := c.objects[key]
	hook := c.ReadHook
	c.mtx.Unlock()

	if !ok {
		return nil, bucket.ErrObjectNotFound
	}

	data := obj.data
	if hook != nil {
		data = hook(key, append([]byte(nil), data...))
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *MemoryClient) ListByPrefix(_ context.Context, prefix string) ([]bucket.ObjectRef, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var refs []bucket.ObjectRef
	for key, obj := range c.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			refs = append(refs, bucket.ObjectRef{Key: key, CRC32C: obj.crc32c})
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (c *MemoryClient) WriteObject(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	c.Put(key, data)
	return nil
}

func (c *MemoryClient) DeleteObject(_ context.Context, key string) error {
	c.Remove(key)
	return nil
}
