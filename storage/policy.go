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
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"verso.land/verso-go/cache"
	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/syncutil"
	"verso.land/verso-go/manifest"
)

// Options configures a Policy.
type Options struct {
	// Cache is the object cache remote fetches populate. Nil selects
	// the default store.
	Cache *cache.Store

	// HTTPClient serves http and https references. Nil selects the
	// retrying default client.
	HTTPClient *http.Client

	// S3, GCS, and Azure override the backend clients, mainly for
	// tests. Nil builds a real client on first use.
	S3    S3API
	GCS   GCSAPI
	Azure AzureAPI

	// Resolver resolves verso-artifact references. Without one, such
	// references fail when used.
	Resolver ArtifactResolver
}

// Policy binds the scheme router to an object cache and exposes the
// storage operations artifacts are built on.
type Policy struct {
	cache  *cache.Store
	router *Router
}

// NewPolicy returns a Policy with a handler registered for every
// supported scheme and the tracking fallback for the rest.
func NewPolicy(opts Options) (*Policy, error) {
	store := opts.Cache
	if store == nil {
		var err error
		store, err = cache.Default()
		if err != nil {
			return nil, err
		}
	}

	var azureFactory func(accountURL string) (AzureAPI, error)
	if opts.Azure != nil {
		azureFactory = func(string) (AzureAPI, error) { return opts.Azure, nil }
	}

	router := NewRouter()
	router.Register("file", NewFileHandler())
	httpHandler := NewHTTPHandler(opts.HTTPClient, store)
	router.Register("http", httpHandler)
	router.Register("https", httpHandler)
	router.Register("s3", NewS3Handler(opts.S3, store))
	router.Register("gs", NewGCSHandler(opts.GCS, store))
	router.Register("az", NewAzureHandler(azureFactory, store))
	router.Register(ArtifactScheme, NewArtifactHandler(opts.Resolver))

	return &Policy{cache: store, router: router}, nil
}

// Cache returns the object cache the policy fetches into.
func (p *Policy) Cache() *cache.Store {
	return p.cache
}

// StoreFile stages the local file at localPath as an artifact entry
// named name, defaulting to the file's base name. The entry keeps the
// staging location so an uploader can find the bytes later; the cache is
// not involved.
func (p *Policy) StoreFile(ctx context.Context, localPath, name string) (manifest.Entry, error) {
	if name == "" {
		name = filepath.Base(localPath)
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.Entry{}, fmt.Errorf("%s must be a valid file path: %w", localPath, errdef.ErrNotFound)
		}
		return manifest.Entry{}, err
	}
	if fi.IsDir() {
		return manifest.Entry{}, fmt.Errorf("%s is a directory, stage it with StoreDir", localPath)
	}
	digest, err := hashutil.ComputeFileB64MD5(localPath)
	if err != nil {
		return manifest.Entry{}, err
	}
	size := fi.Size()
	return manifest.Entry{
		Path:      name,
		Digest:    string(digest),
		Size:      &size,
		LocalPath: localPath,
	}, nil
}

// StoreDir stages every file under localPath the way StoreFile stages
// one, checksumming in parallel. Entry paths are relative to localPath,
// under namePrefix when given.
func (p *Policy) StoreDir(ctx context.Context, localPath, namePrefix string) ([]manifest.Entry, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s must be a valid directory path: %w", localPath, errdef.ErrNotFound)
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory, stage it with StoreFile", localPath)
	}

	var relPaths []string
	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(localPath, p)
			if err != nil {
				return err
			}
			relPaths = append(relPaths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]manifest.Entry, len(relPaths))
	err = syncutil.GoEach(ctx, checksumWorkers, relPaths, func(ctx context.Context, i int, rel string) error {
		physical := filepath.Join(localPath, rel)
		fi, err := os.Stat(physical)
		if err != nil {
			return err
		}
		digest, err := hashutil.ComputeFileB64MD5(physical)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if namePrefix != "" {
			name = path.Join(namePrefix, name)
		}
		size := fi.Size()
		entries[i] = manifest.Entry{
			Path:      name,
			Digest:    string(digest),
			Size:      &size,
			LocalPath: physical,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// StoreReference tracks uri through the handler registered for its
// scheme.
func (p *Policy) StoreReference(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	return p.router.StorePath(ctx, uri, opts)
}

// LoadReference materializes a reference entry through the handler
// registered for its scheme. With local set the returned path is a file
// in the cache; otherwise it is the logical location of the entry.
func (p *Policy) LoadReference(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	return p.router.LoadPath(ctx, entry, local)
}
