package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultGCSEndpoint = "https://storage.googleapis.com"

// GCSClient implements Client against the Google Cloud Storage JSON API for
// publicly readable buckets (the persistence buckets are world-readable).
// The zero value is not usable; construct with NewGCSClient. The embedded
// http.Client is safe for concurrent use, so a single GCSClient may be
// shared by all download workers.
type GCSClient struct {
	bucket   string
	endpoint string
	http     *http.Client
}

// GCSOption configures a GCSClient.
type GCSOption func(*GCSClient)

// WithEndpoint points the client at a non-default API endpoint, e.g. a local
// emulator.
func WithEndpoint(endpoint string) GCSOption {
	return func(c *GCSClient) { c.endpoint = endpoint }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GCSOption {
	return func(c *GCSClient) { c.http = hc }
}

func NewGCSClient(bucketName string, opts ...GCSOption) *GCSClient {
	c := &GCSClient{
		bucket:   bucketName,
		endpoint: defaultGCSEndpoint,
		http: &http.Client{
			// no overall timeout; only the wait for response headers is
			// bounded, object body reads are bounded by the caller's ctx
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConnsPerHost:   64,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GCSClient) Name() string { return c.bucket }

type gcsObject struct {
	Name   string `json:"name"`
	Size   string `json:"size"`
	CRC32C string `json:"crc32c"`
}

type gcsListResponse struct {
	Items         []gcsObject `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
}

func (c *GCSClient) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s", c.endpoint, url.PathEscape(c.bucket), url.PathEscape(key))
}

// GetMetadata implements Client.
func (c *GCSClient) GetMetadata(ctx context.Context, key string) (ObjectMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return ObjectMeta{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ObjectMeta{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ObjectMeta{}, ErrObjectNotFound
	case resp.StatusCode != http.StatusOK:
		return ObjectMeta{}, fmt.Errorf("metadata request for %q: %s", key, resp.Status)
	}

	var obj gcsObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return ObjectMeta{}, fmt.Errorf("decoding metadata for %q: %w", key, err)
	}

	meta := ObjectMeta{Key: obj.Name, CRC32C: obj.CRC32C}
	meta.Size, _ = strconv.ParseInt(obj.Size, 10, 64)
	return meta, nil
}

// ReadObject implements Client.
func (c *GCSClient) ReadObject(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key)+"?alt=media", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrObjectNotFound
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("read request for %q: %s", key, resp.Status)
	}

	return resp.Body, nil
}

// WriteObject implements Writer using a simple media upload.
func (c *GCSClient) WriteObject(ctx context.Context, key string, r io.Reader) error {
	q := url.Values{}
	q.Set("uploadType", "media")
	q.Set("name", key)
	uploadURL := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", c.endpoint, url.PathEscape(c.bucket), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload request for %q: %s", key, resp.Status)
	}
	return nil
}

// DeleteObject implements Writer. Deleting a missing key is not an error.
func (c *GCSClient) DeleteObject(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete request for %q: %s", key, resp.Status)
	}
	return nil
}

// ListByPrefix implements Client, following nextPageToken until the listing
// is exhausted.
func (c *GCSClient) ListByPrefix(ctx context.Context, prefix string) ([]ObjectRef, error) {
	var refs []ObjectRef

	pageToken := ""
	for {
		q := url.Values{}
		q.Set("prefix", prefix)
		q.Set("fields", "items(name,crc32c),nextPageToken")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		listURL := fmt.Sprintf("%s/storage/v1/b/%s/o?%s", c.endpoint, url.PathEscape(c.bucket), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("list request for prefix %q: %s", prefix, resp.Status)
		}

		var page gcsListResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding listing for prefix %q: %w", prefix, err)
		}

		for _, obj := range page.Items {
			refs = append(refs, ObjectRef{Key: obj.Name, CRC32C: obj.CRC32C})
		}

		if page.NextPageToken == "" {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}
