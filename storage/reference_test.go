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
	"fmt"
	"testing"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/manifest"
)

type fakeArtifact struct {
	id       string
	entries  map[string]manifest.Entry
	resolved map[string]string
}

func (a *fakeArtifact) ID() string { return a.id }

func (a *fakeArtifact) Entry(path string) (manifest.Entry, bool) {
	e, ok := a.entries[path]
	return e, ok
}

func (a *fakeArtifact) ResolveEntry(ctx context.Context, path string, local bool) (string, error) {
	p, ok := a.resolved[path]
	if !ok {
		return "", errdef.ErrNotFound
	}
	return p, nil
}

type fakeResolver struct {
	artifacts map[string]*fakeArtifact
}

func (r *fakeResolver) Resolve(ctx context.Context, id string) (ResolvedArtifact, error) {
	a, ok := r.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, errdef.ErrNotFound)
	}
	return a, nil
}

func referenceFixture() *fakeResolver {
	size := int64(5)
	return &fakeResolver{artifacts: map[string]*fakeArtifact{
		"A": {
			id: "A",
			entries: map[string]manifest.Entry{
				"models/weights.bin": {
					Path:   "models/weights.bin",
					Digest: helloDigest,
					Size:   &size,
					Ref:    "s3://bkt/models/weights.bin",
				},
			},
			resolved: map[string]string{
				"models/weights.bin": "/cache/obj/weights.bin",
			},
		},
		"B": {
			id: "B",
			entries: map[string]manifest.Entry{
				"alias.bin": {
					Path:   "alias.bin",
					Digest: helloDigest,
					Ref:    ArtifactURI("A", "models/weights.bin"),
				},
			},
		},
	}}
}

func TestArtifactURI(t *testing.T) {
	got := ArtifactURI("art1", "dir/file.txt")
	if got != "verso-artifact://art1/dir/file.txt" {
		t.Errorf("ArtifactURI() = %q, want %q", got, "verso-artifact://art1/dir/file.txt")
	}
	if got := ArtifactURI("art1", "/rooted.txt"); got != "verso-artifact://art1/rooted.txt" {
		t.Errorf("ArtifactURI() = %q, want %q", got, "verso-artifact://art1/rooted.txt")
	}
}

func TestArtifactHandler_StorePath(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(referenceFixture())

	entries, err := h.StorePath(ctx, "verso-artifact://A/models/weights.bin", ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("ArtifactHandler.StorePath() error =", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ArtifactHandler.StorePath() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Path != "weights.bin" {
		t.Errorf("entry path = %q, want %q", e.Path, "weights.bin")
	}
	if e.Digest != helloDigest {
		t.Errorf("entry digest = %q, want the target digest", e.Digest)
	}
	if e.Size == nil || *e.Size != 0 {
		t.Errorf("entry size = %v, want 0", e.Size)
	}
	if e.Ref != "verso-artifact://A/models/weights.bin" {
		t.Errorf("entry ref = %q, want %q", e.Ref, "verso-artifact://A/models/weights.bin")
	}
}

func TestArtifactHandler_StorePath_Named(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(referenceFixture())

	entries, err := h.StorePath(ctx, "verso-artifact://A/models/weights.bin",
		ReferenceOptions{Name: "base-weights", MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("ArtifactHandler.StorePath() error =", err)
	}
	if entries[0].Path != "base-weights" {
		t.Errorf("entry path = %q, want %q", entries[0].Path, "base-weights")
	}
}

func TestArtifactHandler_StorePath_Chain(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(referenceFixture())

	entries, err := h.StorePath(ctx, "verso-artifact://B/alias.bin", ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if err != nil {
		t.Fatal("ArtifactHandler.StorePath() error =", err)
	}
	// the chain collapses to a single hop onto the concrete entry
	if entries[0].Ref != "verso-artifact://A/models/weights.bin" {
		t.Errorf("entry ref = %q, want %q", entries[0].Ref, "verso-artifact://A/models/weights.bin")
	}
	if entries[0].Path != "weights.bin" {
		t.Errorf("entry path = %q, want %q", entries[0].Path, "weights.bin")
	}
}

func TestArtifactHandler_StorePath_Cycle(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{artifacts: map[string]*fakeArtifact{
		"A": {id: "A", entries: map[string]manifest.Entry{
			"x": {Path: "x", Digest: "d", Ref: ArtifactURI("B", "y")},
		}},
		"B": {id: "B", entries: map[string]manifest.Entry{
			"y": {Path: "y", Digest: "d", Ref: ArtifactURI("A", "x")},
		}},
	}}
	h := NewArtifactHandler(resolver)

	_, err := h.StorePath(ctx, "verso-artifact://A/x", ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if !errors.Is(err, errdef.ErrInvalidReference) {
		t.Fatalf("ArtifactHandler.StorePath() error = %v, want %v", err, errdef.ErrInvalidReference)
	}
}

func TestArtifactHandler_StorePath_MissingEntry(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(referenceFixture())

	_, err := h.StorePath(ctx, "verso-artifact://A/nope", ReferenceOptions{MaxObjects: DefaultMaxObjects})
	if !errors.Is(err, errdef.ErrNotFound) {
		t.Fatalf("ArtifactHandler.StorePath() error = %v, want %v", err, errdef.ErrNotFound)
	}
}

func TestArtifactHandler_NoResolver(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(nil)

	if _, err := h.StorePath(ctx, "verso-artifact://A/x", ReferenceOptions{MaxObjects: DefaultMaxObjects}); err == nil {
		t.Fatal("ArtifactHandler.StorePath() error = nil, want an error")
	}
	entry := manifest.Entry{Path: "x", Digest: "d", Ref: "verso-artifact://A/x"}
	if _, err := h.LoadPath(ctx, entry, true); err == nil {
		t.Fatal("ArtifactHandler.LoadPath() error = nil, want an error")
	}
}

func TestArtifactHandler_LoadPath(t *testing.T) {
	ctx := context.Background()
	h := NewArtifactHandler(referenceFixture())
	entry := manifest.Entry{
		Path:   "weights.bin",
		Digest: helloDigest,
		Ref:    "verso-artifact://A/models/weights.bin",
	}

	got, err := h.LoadPath(ctx, entry, true)
	if err != nil {
		t.Fatal("ArtifactHandler.LoadPath() error =", err)
	}
	if got != "/cache/obj/weights.bin" {
		t.Errorf("ArtifactHandler.LoadPath() = %q, want %q", got, "/cache/obj/weights.bin")
	}
}

func Test_splitArtifactURI(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantID   string
		wantPath string
		wantErr  bool
	}{
		{name: "entry", uri: "verso-artifact://art1/dir/file.txt", wantID: "art1", wantPath: "dir/file.txt"},
		{name: "wrong scheme", uri: "s3://bkt/key", wantErr: true},
		{name: "no id", uri: "verso-artifact:///file.txt", wantErr: true},
		{name: "no path", uri: "verso-artifact://art1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, p, err := splitArtifactURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, errdef.ErrInvalidReference) {
					t.Fatalf("splitArtifactURI() error = %v, want %v", err, errdef.ErrInvalidReference)
				}
				return
			}
			if err != nil {
				t.Fatal("splitArtifactURI() error =", err)
			}
			if id != tt.wantID || p != tt.wantPath {
				t.Errorf("splitArtifactURI() = (%q, %q), want (%q, %q)", id, p, tt.wantID, tt.wantPath)
			}
		})
	}
}
