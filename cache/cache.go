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

// Package cache implements a disk-resident object cache shared across
// processes. Objects are keyed either by their content digest or by the
// (url, etag) pair that identifies a remote resource, and are populated
// atomically so that a reader never observes a partially written object.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"verso.land/verso-go/hashutil"
)

// envCacheDir overrides the default cache location when set.
const envCacheDir = "VERSO_CACHE_DIR"

// Cache key algorithms. These name the two key spaces of the store and
// become the first path level under obj/.
const (
	algMD5  = digest.Algorithm("md5")
	algETag = digest.Algorithm("etag")
)

// Store is an on-disk object cache rooted at a single directory.
// All methods are safe for concurrent use by multiple goroutines and
// multiple processes sharing the same root.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory tree is created
// lazily as objects are written.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	return &Store{root: root}, nil
}

// Default returns a Store rooted at $VERSO_CACHE_DIR if set, falling
// back to the user cache directory.
func Default() (*Store, error) {
	if dir := os.Getenv(envCacheDir); dir != "" {
		return New(dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return New(filepath.Join(base, "verso", "artifacts"))
}

// Root returns the root directory of the store.
func (s *Store) Root() string {
	return s.root
}

// ContentSlot locates the slot for an object identified by its base64
// MD5 content digest and expected byte size.
func (s *Store) ContentSlot(dgst hashutil.B64MD5, size int64) (Slot, error) {
	hexDigest, err := hashutil.B64ToHex(dgst)
	if err != nil {
		return Slot{}, err
	}
	key := digest.NewDigestFromEncoded(algMD5, hexDigest)
	return Slot{path: s.objPath(key), size: size}, nil
}

// URLSlot locates the slot for a remote resource identified by its URL
// and ETag. The key is a hash of the pair, so neither the URL nor the
// raw ETag appears in the object path.
func (s *Store) URLSlot(url string, etag hashutil.ETag, size int64) Slot {
	sum := sha256.Sum256([]byte(url + string(etag)))
	key := digest.NewDigestFromEncoded(algETag, hex.EncodeToString(sum[:]))
	return Slot{path: s.objPath(key), size: size}
}

// objPath computes the two-level path of a cache object under the store
// root. The digest encoding is split after two characters to bound the
// per-directory fanout.
func (s *Store) objPath(key digest.Digest) string {
	enc := key.Encoded()
	return filepath.Join(s.root, "obj", key.Algorithm().String(), enc[:2], enc[2:])
}

// Slot is the location an object occupies in the store, whether or not
// the object is present.
type Slot struct {
	path string
	size int64
}

// Path returns the location of the object on disk.
func (s Slot) Path() string {
	return s.path
}

// Cached reports whether the object is present. A file whose size does
// not match the expected size is not a cache hit; callers repopulate the
// slot instead of trusting it.
func (s Slot) Cached() bool {
	fi, err := os.Stat(s.path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() == s.size
}
