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
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/log"
	"verso.land/verso-go/internal/syncutil"
	"verso.land/verso-go/manifest"
)

// checksumWorkers bounds the goroutines hashing files during directory
// expansion.
const checksumWorkers = 8

// FileHandler serves file:// references. Directories are expanded to one
// entry per contained file; symlinked files are followed.
type FileHandler struct{}

// NewFileHandler returns a handler for file:// references.
func NewFileHandler() *FileHandler {
	return &FileHandler{}
}

// StorePath tracks a local file or directory.
func (h *FileHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	localPath, err := fileURIToPath(uri)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s must be a valid file or directory path: %w", localPath, errdef.ErrNotFound)
		}
		return nil, err
	}
	if fi.IsDir() {
		return h.storeDir(ctx, uri, localPath, opts)
	}
	return h.storeFile(uri, localPath, fi, opts)
}

func (h *FileHandler) storeFile(uri, localPath string, fi os.FileInfo, opts ReferenceOptions) ([]manifest.Entry, error) {
	name := opts.Name
	if name == "" {
		name = filepath.Base(localPath)
	}
	digest, err := fileDigest(localPath, fi.Size(), opts.SkipChecksum)
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	return []manifest.Entry{{
		Path:   name,
		Digest: string(digest),
		Size:   &size,
		Ref:    uri,
	}}, nil
}

func (h *FileHandler) storeDir(ctx context.Context, uri, localPath string, opts ReferenceOptions) ([]manifest.Entry, error) {
	var relPaths []string
	err := filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		if len(relPaths) == opts.MaxObjects {
			return fmt.Errorf("exceeded %d objects tracked, raise MaxObjects to track larger directories: %w",
				opts.MaxObjects, errdef.ErrQuotaExceeded)
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !opts.SkipChecksum {
		log.G(ctx).Infof("generating checksums for up to %d files in %q", opts.MaxObjects, localPath)
	}
	start := time.Now()
	entries := make([]manifest.Entry, len(relPaths))
	err = syncutil.GoEach(ctx, checksumWorkers, relPaths, func(ctx context.Context, i int, rel string) error {
		physical := filepath.Join(localPath, rel)
		fi, err := os.Stat(physical)
		if err != nil {
			return err
		}
		digest, err := fileDigest(physical, fi.Size(), opts.SkipChecksum)
		if err != nil {
			return err
		}
		logical := filepath.ToSlash(rel)
		name := logical
		if opts.Name != "" {
			name = path.Join(opts.Name, logical)
		}
		size := fi.Size()
		entries[i] = manifest.Entry{
			Path:   name,
			Digest: string(digest),
			Size:   &size,
			Ref:    joinRef(uri, logical),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !opts.SkipChecksum {
		log.G(ctx).Infof("generated %d checksums in %v", len(entries), time.Since(start).Round(time.Millisecond))
	}
	return entries, nil
}

// LoadPath resolves a file reference to the referenced path itself; no
// copy is made, so local has no effect. A missing file or a size drift
// since the reference was stored is reported instead of a path.
func (h *FileHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	localPath, err := fileURIToPath(entry.Ref)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("failed to find file at path %s: %w", localPath, errdef.ErrNotFound)
		}
		return "", err
	}
	if entry.Size != nil && fi.Size() != *entry.Size {
		return "", fmt.Errorf("size %d of %s does not match expected %d: %w",
			fi.Size(), localPath, *entry.Size, errdef.ErrDigestMismatch)
	}
	return localPath, nil
}

// fileDigest computes the digest of a local file. Without checksumming
// the digest is derived from the size alone and never reads the
// contents.
func fileDigest(localPath string, size int64, skipChecksum bool) (hashutil.B64MD5, error) {
	if skipChecksum {
		return hashutil.ComputeB64MD5([]byte(strconv.FormatInt(size, 10))), nil
	}
	return hashutil.ComputeFileB64MD5(localPath)
}

// fileURIToPath converts a file:// URI (or a bare path) to a filesystem
// path.
func fileURIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	p := u.Host + u.Path
	if p == "" {
		p = u.Opaque
	}
	if p == "" {
		return "", fmt.Errorf("%s has no path: %w", uri, errdef.ErrInvalidReference)
	}
	return filepath.FromSlash(p), nil
}
