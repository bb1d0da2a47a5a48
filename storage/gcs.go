/*
Copyright The Verso Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"verso.land/verso-go/cache"
	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/log"
	"verso.land/verso-go/manifest"
)

// GCSAPI is the slice of the Cloud Storage client the handler depends
// on. A negative generation addresses the live object.
type GCSAPI interface {
	Attrs(ctx context.Context, bucket, key string) (*gcs.ObjectAttrs, error)
	NewReader(ctx context.Context, bucket, key string, generation int64) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string, limit int) ([]*gcs.ObjectAttrs, error)
}

// gcsClient adapts *gcs.Client to GCSAPI.
type gcsClient struct {
	client *gcs.Client
}

func (c *gcsClient) Attrs(ctx context.Context, bucket, key string) (*gcs.ObjectAttrs, error) {
	return c.client.Bucket(bucket).Object(key).Attrs(ctx)
}

func (c *gcsClient) NewReader(ctx context.Context, bucket, key string, generation int64) (io.ReadCloser, error) {
	obj := c.client.Bucket(bucket).Object(key)
	if generation >= 0 {
		obj = obj.Generation(generation)
	}
	return obj.NewReader(ctx)
}

func (c *gcsClient) List(ctx context.Context, bucket, prefix string, limit int) ([]*gcs.ObjectAttrs, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var attrs []*gcs.ObjectAttrs
	for limit <= 0 || len(attrs) < limit {
		a, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// GCSHandler tracks and fetches gs:// references. Tracked objects carry
// their base64 MD5 as digest and their generation, so later fetches can
// pin the exact bytes that were tracked.
type GCSHandler struct {
	cache *cache.Store

	mu  sync.Mutex
	api GCSAPI
}

// NewGCSHandler returns a handler backed by store. If api is nil, a
// client is built from application default credentials on first use.
func NewGCSHandler(api GCSAPI, store *cache.Store) *GCSHandler {
	return &GCSHandler{cache: store, api: api}
}

func (h *GCSHandler) client(ctx context.Context) (GCSAPI, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.api != nil {
		return h.api, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to GCS: %w", err)
	}
	h.api = &gcsClient{client: client}
	return h.api, nil
}

// StorePath tracks the object at uri, or every object under it when uri
// names a prefix rather than a single key.
func (h *GCSHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	bucket, key, err := parseBucketURI(uri)
	if err != nil {
		return nil, err
	}
	if opts.SkipChecksum {
		name := opts.Name
		if name == "" {
			name = key
		}
		return []manifest.Entry{{Path: name, Digest: uri, Ref: uri}}, nil
	}

	api, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	attrs, err := api.Attrs(ctx, bucket, key)
	if err != nil {
		if !errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("unable to connect to GCS: %w", err)
		}
		// no such object, treat the uri as a prefix
		return h.storePrefix(ctx, api, uri, bucket, key, opts)
	}

	name := opts.Name
	if name == "" {
		name = path.Base(key)
	}
	return []manifest.Entry{gcsEntry(name, uri, attrs)}, nil
}

func (h *GCSHandler) storePrefix(ctx context.Context, api GCSAPI, uri, bucket, prefix string, opts ReferenceOptions) ([]manifest.Entry, error) {
	log.G(ctx).Infof("generating checksums for up to %d objects with prefix %q", opts.MaxObjects, prefix)
	start := time.Now()

	// list one past the quota so exceeding it is detectable
	objects, err := api.List(ctx, bucket, prefix, opts.MaxObjects+1)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to GCS: %w", err)
	}
	if len(objects) > opts.MaxObjects {
		return nil, fmt.Errorf("exceeded %d objects tracked, raise MaxObjects to track larger prefixes: %w",
			opts.MaxObjects, errdef.ErrQuotaExceeded)
	}

	entries := make([]manifest.Entry, 0, len(objects))
	for _, attrs := range objects {
		name := strings.TrimPrefix(strings.TrimPrefix(attrs.Name, prefix), "/")
		ref := joinRef(uri, name)
		if name == "" {
			name, ref = path.Base(attrs.Name), uri
		}
		if opts.Name != "" {
			name = path.Join(opts.Name, name)
		}
		entries = append(entries, gcsEntry(name, ref, attrs))
	}

	log.G(ctx).Infof("generated %d checksums in %v", len(entries), time.Since(start).Round(time.Millisecond))
	return entries, nil
}

// gcsEntry builds the entry for one object. The object's MD5 is the
// entry digest, so fetches are keyed by content rather than by url.
func gcsEntry(name, ref string, attrs *gcs.ObjectAttrs) manifest.Entry {
	size := attrs.Size
	return manifest.Entry{
		Path:   name,
		Digest: base64.StdEncoding.EncodeToString(attrs.MD5),
		Size:   &size,
		Ref:    ref,
		Extra: map[string]string{
			extraKeyETag:      attrs.Etag,
			extraKeyVersionID: strconv.FormatInt(attrs.Generation, 10),
		},
	}
}

// LoadPath returns the reference location of entry, fetching the object
// into the cache first when local is set. The fetch pins the tracked
// generation when the bucket still has it; otherwise the live object
// must carry the tracked digest.
func (h *GCSHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if !local {
		return entry.Ref, nil
	}
	slot, err := h.cache.ContentSlot(hashutil.B64MD5(entry.Digest), entrySize(entry))
	if err != nil {
		return "", err
	}
	if slot.Cached() {
		return slot.Path(), nil
	}

	api, err := h.client(ctx)
	if err != nil {
		return "", err
	}
	bucket, key, err := parseBucketURI(entry.Ref)
	if err != nil {
		return "", err
	}

	body, err := h.open(ctx, api, bucket, key, entry)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := fetchToSlot(slot, body, entrySize(entry), entry.Ref); err != nil {
		return "", err
	}
	return slot.Path(), nil
}

// open returns a reader over the tracked bytes of entry.
func (h *GCSHandler) open(ctx context.Context, api GCSAPI, bucket, key string, entry manifest.Entry) (io.ReadCloser, error) {
	generation := int64(-1)
	if v := entry.Extra[extraKeyVersionID]; v != "" {
		if g, err := strconv.ParseInt(v, 10, 64); err == nil {
			generation = g
		}
	}
	if generation >= 0 {
		body, err := api.NewReader(ctx, bucket, key, generation)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("unable to connect to GCS: %w", err)
		}
		// generation gone, the live object may still match
	}

	attrs, err := api.Attrs(ctx, bucket, key)
	if err != nil {
		if !errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("unable to connect to GCS: %w", err)
		}
		if generation >= 0 {
			return nil, fmt.Errorf("unable to download object %s with generation %d: %w",
				entry.Ref, generation, errdef.ErrNotFound)
		}
		return nil, fmt.Errorf("object %s: %w", entry.Ref, errdef.ErrNotFound)
	}
	if live := base64.StdEncoding.EncodeToString(attrs.MD5); live != entry.Digest {
		return nil, fmt.Errorf("digest mismatch for object %s: expected %s but found %s: %w",
			entry.Ref, entry.Digest, live, errdef.ErrDigestMismatch)
	}
	body, err := api.NewReader(ctx, bucket, key, -1)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to GCS: %w", err)
	}
	return body, nil
}
