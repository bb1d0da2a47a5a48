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

// Package manifest defines the content listing of an artifact: one entry
// per artifact-relative path, carrying the digest and provenance of the
// bytes behind it. A manifest digests to a single value that is stable
// across entry insertion orders, which is what makes artifacts
// content-addressed at the collection level.
package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"verso.land/verso-go/errdef"
)

// digestPreamble versions the digest input so future manifest revisions
// can never collide with v1 digests.
const digestPreamble = "verso-artifact-manifest-v1\n"

// Entry is one row of a manifest.
type Entry struct {
	// Path is the artifact-relative path of the entry, always in forward
	// slash form.
	Path string

	// Digest identifies the content. For local files this is the base64
	// MD5 of the bytes; for references it is backend-defined (ETag, MD5,
	// or the URI itself for untracked schemes).
	Digest string

	// Size is the byte size. It is nil only when checksumming was
	// explicitly disabled for a reference.
	Size *int64

	// Ref is the reference URI for entries tracked by reference, empty
	// for local files.
	Ref string

	// Extra carries backend provenance such as "etag" and "versionID".
	// It is never part of any digest computation.
	Extra map[string]string

	// LocalPath points at the staged local source of the entry's bytes.
	// It is never serialized and is cleared once the bytes are durable
	// upstream.
	LocalPath string
}

// Manifest is a set of entries keyed by path. It is not safe for
// concurrent mutation; the owning artifact serializes writers.
type Manifest struct {
	entries map[string]Entry
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		entries: make(map[string]Entry),
	}
}

// Add inserts an entry. Re-adding a path with the identical digest
// overwrites the stored entry; a different digest for an existing path
// fails with errdef.ErrDigestConflict.
func (m *Manifest) Add(entry Entry) error {
	if entry.Path == "" {
		return errors.New("manifest entry requires a path")
	}
	entry.Path = filepath.ToSlash(entry.Path)
	if existing, ok := m.entries[entry.Path]; ok && existing.Digest != entry.Digest {
		return fmt.Errorf("%s: digest %s conflicts with %s: %w",
			entry.Path, entry.Digest, existing.Digest, errdef.ErrDigestConflict)
	}
	m.entries[entry.Path] = entry
	return nil
}

// Entry returns the entry stored at path.
func (m *Manifest) Entry(path string) (Entry, bool) {
	entry, ok := m.entries[filepath.ToSlash(path)]
	return entry, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns all entries sorted by path.
func (m *Manifest) Entries() []Entry {
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, m.entries[path])
	}
	return entries
}

// EntriesInDirectory returns the entries whose path sits below the given
// directory prefix, sorted by path. A path equal to the prefix itself is
// not below it.
func (m *Manifest) EntriesInDirectory(prefix string) []Entry {
	dir := strings.TrimSuffix(filepath.ToSlash(prefix), "/") + "/"
	var entries []Entry
	for path, entry := range m.entries {
		if strings.HasPrefix(path, dir) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// ClearLocalPath drops the staged source of the entry at path, marking
// its bytes durable upstream. It reports whether the entry exists.
func (m *Manifest) ClearLocalPath(path string) bool {
	entry, ok := m.entries[filepath.ToSlash(path)]
	if !ok {
		return false
	}
	entry.LocalPath = ""
	m.entries[entry.Path] = entry
	return true
}

// Digest computes the manifest digest: the hex MD5 of a version preamble
// followed by one canonical line per entry in sorted path order. The
// line covers path, digest, size and ref; Extra and LocalPath never
// contribute. Two manifests listing identical content at identical paths
// digest identically regardless of insertion order.
func (m *Manifest) Digest() string {
	h := md5.New()
	io.WriteString(h, digestPreamble)
	for _, entry := range m.Entries() {
		size := ""
		if entry.Size != nil {
			size = strconv.FormatInt(*entry.Size, 10)
		}
		fmt.Fprintf(h, "%s:%s:%s:%s\n", entry.Path, entry.Digest, size, entry.Ref)
	}
	return hex.EncodeToString(h.Sum(nil))
}
