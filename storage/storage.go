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

// Package storage tracks external resources as artifact manifest entries
// and materializes them again on demand. Each URI scheme is served by a
// Handler; a Router dispatches on the scheme and falls back to plain
// tracking for schemes it does not know. The Policy bundles the router
// with the object cache and is the single entry point the artifact layer
// talks to.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/manifest"
)

// DefaultMaxObjects bounds how many entries a directory or prefix
// reference may expand to when the caller does not say otherwise.
const DefaultMaxObjects = 10000

// Manifest entry Extra keys shared by the backend handlers.
const (
	extraKeyETag      = "etag"
	extraKeyVersionID = "versionID"
)

// bufPool is a pool of byte buffers reused for streaming object bytes
// into the cache.
var bufPool = sync.Pool{
	New: func() interface{} {
		// the buffer size should be larger than or equal to 128 KiB
		// for performance considerations.
		// we choose 1 MiB here so there will be less disk I/O.
		buffer := make([]byte, 1<<20) // buffer size = 1 MiB
		return &buffer
	},
}

// ReferenceOptions controls how a reference is stored.
type ReferenceOptions struct {
	// Name is the artifact path to store the reference under. When empty
	// the handler derives it from the URI; directory references use it
	// as a path prefix instead.
	Name string

	// SkipChecksum records the reference without contacting the backend;
	// the digest degrades to the URI (or to a size marker for local
	// files) and carries no verification value.
	SkipChecksum bool

	// MaxObjects bounds directory and prefix expansion. Zero means
	// DefaultMaxObjects.
	MaxObjects int
}

// Handler stores and loads references for one URI scheme.
type Handler interface {
	// StorePath tracks the resource at uri, returning one manifest entry
	// per object. A directory or prefix URI expands to multiple entries.
	// No object bytes are read beyond what checksumming requires.
	StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error)

	// LoadPath materializes the entry. With local set it returns a path
	// on the local filesystem, fetching through the cache if needed;
	// otherwise it returns the logical location without touching object
	// bytes.
	LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error)
}

// Router dispatches reference operations to the Handler registered for
// the URI scheme. Schemes with no registered handler fall back to the
// tracking handler.
type Router struct {
	handlers map[string]Handler
	fallback Handler
}

// NewRouter returns a Router with no scheme handlers and the tracking
// handler as fallback.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		fallback: NewTrackingHandler(),
	}
}

// Register routes a URI scheme to a handler, replacing any previous
// registration.
func (r *Router) Register(scheme string, h Handler) {
	r.handlers[scheme] = h
}

// StorePath tracks the resource at uri through the handler registered
// for its scheme. MaxObjects defaults to DefaultMaxObjects before the
// handler sees the options.
func (r *Router) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	scheme, err := uriScheme(uri)
	if err != nil {
		return nil, err
	}
	if opts.MaxObjects <= 0 {
		opts.MaxObjects = DefaultMaxObjects
	}
	entries, err := r.handler(scheme).StorePath(ctx, uri, opts)
	if err != nil {
		return nil, errdef.NewReferenceError(errdef.ReferenceErrorOpStore, scheme, uri, err)
	}
	return entries, nil
}

// LoadPath materializes a reference entry through the handler registered
// for its Ref scheme.
func (r *Router) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if entry.Ref == "" {
		return "", fmt.Errorf("entry %s has no reference: %w", entry.Path, errdef.ErrInvalidReference)
	}
	scheme, err := uriScheme(entry.Ref)
	if err != nil {
		return "", err
	}
	loaded, err := r.handler(scheme).LoadPath(ctx, entry, local)
	if err != nil {
		return "", errdef.NewReferenceError(errdef.ReferenceErrorOpLoad, scheme, entry.Ref, err)
	}
	return loaded, nil
}

func (r *Router) handler(scheme string) Handler {
	if h, ok := r.handlers[scheme]; ok {
		return h
	}
	return r.fallback
}

func uriScheme(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	return u.Scheme, nil
}

// refBasename returns the last path element of a reference URI.
func refBasename(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return path.Base(uri)
	}
	return path.Base(u.Path)
}

// joinRef extends a reference URI with a relative object path.
func joinRef(uri, rel string) string {
	return strings.TrimSuffix(uri, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// entrySize reports the declared size of an entry, or 0 when the entry
// carries none.
func entrySize(entry manifest.Entry) int64 {
	if entry.Size == nil {
		return 0
	}
	return *entry.Size
}
