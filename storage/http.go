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
	"fmt"
	"io"
	"net/http"
	"os"

	"verso.land/verso-go/cache"
	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/retry"
	"verso.land/verso-go/manifest"
)

// HTTPHandler serves http:// and https:// references. Objects are
// identified by the ETag the server reports; servers that report none
// degrade to tracking the URL itself as the digest.
type HTTPHandler struct {
	client *http.Client
	cache  *cache.Store
}

// NewHTTPHandler returns a handler fetching through client, or through
// the default retrying client when client is nil.
func NewHTTPHandler(client *http.Client, store *cache.Store) *HTTPHandler {
	if client == nil {
		client = retry.DefaultClient
	}
	return &HTTPHandler{client: client, cache: store}
}

// StorePath tracks a remote resource by its response headers. No body
// bytes are read.
func (h *HTTPHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	name := opts.Name
	if name == "" {
		name = refBasename(uri)
	}
	if opts.SkipChecksum {
		return []manifest.Entry{{Path: name, Digest: uri, Ref: uri}}, nil
	}

	resp, err := h.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	digest, size, extra := entryFromResponse(resp)
	if digest == "" {
		digest = uri
	}
	return []manifest.Entry{{
		Path:   name,
		Digest: digest,
		Size:   &size,
		Ref:    uri,
		Extra:  extra,
	}}, nil
}

// LoadPath fetches the resource into the cache keyed by (url, etag) and
// returns the cached path. Without local it returns the URL itself.
func (h *HTTPHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if !local {
		return entry.Ref, nil
	}

	slot := h.cache.URLSlot(entry.Ref, hashutil.ETag(entry.Digest), entrySize(entry))
	if slot.Cached() {
		return slot.Path(), nil
	}

	resp, err := h.get(ctx, entry.Ref)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	live, _, _ := entryFromResponse(resp)
	if live == "" {
		live = entry.Ref
	}
	if live != entry.Digest {
		return "", fmt.Errorf("digest mismatch for url %s: expected %s but found %s: %w",
			entry.Ref, entry.Digest, live, errdef.ErrDigestMismatch)
	}

	if err := fetchToSlot(slot, resp.Body, entrySize(entry), entry.Ref); err != nil {
		return "", err
	}
	return slot.Path(), nil
}

func (h *HTTPHandler) get(ctx context.Context, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", uri, errdef.ErrNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected response to GET %s: %s", uri, resp.Status)
	}
}

// entryFromResponse derives the digest, size and provenance of a tracked
// resource from its response headers. The raw ETag header lands in
// extra; quotes are trimmed for the digest.
func entryFromResponse(resp *http.Response) (digest string, size int64, extra map[string]string) {
	if etag := resp.Header.Get("ETag"); etag != "" {
		extra = map[string]string{extraKeyETag: etag}
		digest = trimETagQuotes(etag)
	}
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return digest, size, extra
}

// fetchToSlot streams body into a cache slot. A byte count short of the
// declared size leaves the slot unpopulated.
func fetchToSlot(slot cache.Slot, body io.Reader, declared int64, ref string) error {
	w, err := slot.Open(os.O_WRONLY)
	if err != nil {
		return err
	}
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)
	written, err := io.CopyBuffer(w, body, *buf)
	if err != nil {
		w.Discard()
		return fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	if declared > 0 && written != declared {
		w.Discard()
		return fmt.Errorf("%s: wrote %d of %d declared bytes: %w", ref, written, declared, errdef.ErrIncompleteDownload)
	}
	return w.Close()
}

func trimETagQuotes(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
