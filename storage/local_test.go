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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/manifest"
)

// base64 MD5 of "hello" and of the decimal size string "5".
const (
	helloDigest = "XUFAKrxLKna5cZ2REBfFkg=="
	sizeDigest  = "5No7f7vOI0XXdysGdKMY1Q=="
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
		t.Fatal("MkdirAll() error =", err)
	}
	if err := os.WriteFile(p, []byte(content), 0666); err != nil {
		t.Fatal("WriteFile() error =", err)
	}
	return p
}

func fileURI(p string) string {
	return "file://" + filepath.ToSlash(p)
}

func TestFileHandler_StoreFile(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "hello.txt", "hello")
	h := NewFileHandler()

	entries, err := h.StorePath(ctx, fileURI(p), ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("FileHandler.StorePath() error =", err)
	}
	if len(entries) != 1 {
		t.Fatalf("FileHandler.StorePath() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Path != "hello.txt" {
		t.Errorf("entry path = %q, want %q", e.Path, "hello.txt")
	}
	if e.Digest != helloDigest {
		t.Errorf("entry digest = %q, want %q", e.Digest, helloDigest)
	}
	if e.Size == nil || *e.Size != 5 {
		t.Errorf("entry size = %v, want 5", e.Size)
	}
	if e.Ref != fileURI(p) {
		t.Errorf("entry ref = %q, want %q", e.Ref, fileURI(p))
	}
}

func TestFileHandler_StoreFile_Named(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "hello.txt", "hello")
	h := NewFileHandler()

	entries, err := h.StorePath(ctx, fileURI(p), ReferenceOptions{Name: "inputs/greeting", MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("FileHandler.StorePath() error =", err)
	}
	if entries[0].Path != "inputs/greeting" {
		t.Errorf("entry path = %q, want %q", entries[0].Path, "inputs/greeting")
	}
}

func TestFileHandler_StoreFile_SkipChecksum(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "hello.txt", "hello")
	h := NewFileHandler()

	entries, err := h.StorePath(ctx, fileURI(p), ReferenceOptions{SkipChecksum: true, MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("FileHandler.StorePath() error =", err)
	}
	// the digest derives from the size string, not the contents
	if entries[0].Digest != sizeDigest {
		t.Errorf("entry digest = %q, want %q", entries[0].Digest, sizeDigest)
	}
	if entries[0].Size == nil || *entries[0].Size != 5 {
		t.Errorf("entry size = %v, want 5", entries[0].Size)
	}
}

func TestFileHandler_StorePath_Missing(t *testing.T) {
	ctx := context.Background()
	h := NewFileHandler()

	_, err := h.StorePath(ctx, fileURI(filepath.Join(t.TempDir(), "nope")), ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if !errors.Is(err, errdef.ErrNotFound) {
		t.Fatalf("FileHandler.StorePath() error = %v, want %v", err, errdef.ErrNotFound)
	}
}

func TestFileHandler_StoreDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, filepath.Join("sub", "b.txt"), "world")
	h := NewFileHandler()

	entries, err := h.StorePath(ctx, fileURI(dir), ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("FileHandler.StorePath() error =", err)
	}
	if len(entries) != 2 {
		t.Fatalf("FileHandler.StorePath() returned %d entries, want 2", len(entries))
	}
	byPath := map[string]manifest.Entry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	a, ok := byPath["a.txt"]
	if !ok {
		t.Fatalf("entries = %+v, want one named a.txt", entries)
	}
	if a.Digest != helloDigest {
		t.Errorf("a.txt digest = %q, want %q", a.Digest, helloDigest)
	}
	if a.Ref != fileURI(dir)+"/a.txt" {
		t.Errorf("a.txt ref = %q, want %q", a.Ref, fileURI(dir)+"/a.txt")
	}
	b, ok := byPath["sub/b.txt"]
	if !ok {
		t.Fatalf("entries = %+v, want one named sub/b.txt", entries)
	}
	if b.Ref != fileURI(dir)+"/sub/b.txt" {
		t.Errorf("sub/b.txt ref = %q, want %q", b.Ref, fileURI(dir)+"/sub/b.txt")
	}
}

func TestFileHandler_StoreDir_NamePrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	h := NewFileHandler()

	entries, err := h.StorePath(ctx, fileURI(dir), ReferenceOptions{Name: "data", MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("FileHandler.StorePath() error =", err)
	}
	if entries[0].Path != "data/a.txt" {
		t.Errorf("entry path = %q, want %q", entries[0].Path, "data/a.txt")
	}
	// the ref keeps the physical location, unprefixed
	if entries[0].Ref != fileURI(dir)+"/a.txt" {
		t.Errorf("entry ref = %q, want %q", entries[0].Ref, fileURI(dir)+"/a.txt")
	}
}

func TestFileHandler_StoreDir_Quota(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "c.txt", "c")
	h := NewFileHandler()

	if _, err := h.StorePath(ctx, fileURI(dir), ReferenceOptions{MaxObjects: 2}); !errors.Is(err, errdef.ErrQuotaExceeded) {
		t.Fatalf("FileHandler.StorePath(MaxObjects=2) error = %v, want %v", err, errdef.ErrQuotaExceeded)
	}

	// exactly at the bound is allowed
	entries, err := h.StorePath(ctx, fileURI(dir), ReferenceOptions{MaxObjects: 3})
	if err != nil {
		t.Fatal("FileHandler.StorePath(MaxObjects=3) error =", err)
	}
	if len(entries) != 3 {
		t.Errorf("FileHandler.StorePath() returned %d entries, want 3", len(entries))
	}
}

func TestFileHandler_LoadPath(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "hello.txt", "hello")
	h := NewFileHandler()
	size := int64(5)
	entry := manifest.Entry{Path: "hello.txt", Digest: helloDigest, Size: &size, Ref: fileURI(p)}

	got, err := h.LoadPath(ctx, entry, true)
	if err != nil {
		t.Fatal("FileHandler.LoadPath() error =", err)
	}
	if got != p {
		t.Errorf("FileHandler.LoadPath() = %q, want %q", got, p)
	}
}

func TestFileHandler_LoadPath_SizeDrift(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "hello.txt", "hello there")
	h := NewFileHandler()
	size := int64(5)
	entry := manifest.Entry{Path: "hello.txt", Digest: helloDigest, Size: &size, Ref: fileURI(p)}

	if _, err := h.LoadPath(ctx, entry, true); !errors.Is(err, errdef.ErrDigestMismatch) {
		t.Fatalf("FileHandler.LoadPath() error = %v, want %v", err, errdef.ErrDigestMismatch)
	}
}

func TestFileHandler_LoadPath_Missing(t *testing.T) {
	ctx := context.Background()
	h := NewFileHandler()
	entry := manifest.Entry{Path: "x", Digest: "d", Ref: fileURI(filepath.Join(t.TempDir(), "gone"))}

	if _, err := h.LoadPath(ctx, entry, true); !errors.Is(err, errdef.ErrNotFound) {
		t.Fatalf("FileHandler.LoadPath() error = %v, want %v", err, errdef.ErrNotFound)
	}
}

func Test_fileURIToPath(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr error
	}{
		{name: "absolute", uri: "file:///data/in.txt", want: filepath.FromSlash("/data/in.txt")},
		{name: "bare path", uri: "/data/in.txt", want: filepath.FromSlash("/data/in.txt")},
		{name: "empty", uri: "file://", wantErr: errdef.ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fileURIToPath(tt.uri)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("fileURIToPath() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal("fileURIToPath() error =", err)
			}
			if got != tt.want {
				t.Errorf("fileURIToPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
