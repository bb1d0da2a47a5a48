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
	"net/url"
	"path"
	"strings"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/manifest"
)

// ArtifactScheme is the URI scheme of references into other artifacts.
const ArtifactScheme = "verso-artifact"

// maxRefChain bounds how many artifact-to-artifact hops a reference may
// take before it must land on a concrete entry.
const maxRefChain = 32

// ArtifactURI builds a reference URI addressing an entry of another
// artifact. The id may be a backend id or, for artifacts not yet
// committed, a client id.
func ArtifactURI(artifactID, entryPath string) string {
	return fmt.Sprintf("%s://%s/%s", ArtifactScheme, artifactID, strings.TrimPrefix(entryPath, "/"))
}

// ResolvedArtifact is the view of another artifact the reference handler
// needs: entry lookup and entry materialization.
type ResolvedArtifact interface {
	// ID returns the stable identifier the artifact is addressable by.
	ID() string

	// Entry returns the manifest entry stored at path.
	Entry(path string) (manifest.Entry, bool)

	// ResolveEntry materializes the entry at path, locally when local is
	// set.
	ResolveEntry(ctx context.Context, path string, local bool) (string, error)
}

// ArtifactResolver resolves artifact identifiers to artifacts. Both
// backend ids and client ids of uncommitted artifacts resolve.
type ArtifactResolver interface {
	Resolve(ctx context.Context, id string) (ResolvedArtifact, error)
}

// ArtifactHandler serves references into other artifacts.
type ArtifactHandler struct {
	resolver ArtifactResolver
}

// NewArtifactHandler returns a handler resolving artifacts through
// resolver.
func NewArtifactHandler(resolver ArtifactResolver) *ArtifactHandler {
	return &ArtifactHandler{resolver: resolver}
}

// StorePath tracks an entry of another artifact. Chains of artifact
// references are followed until a concrete entry is found, so the stored
// reference is always a single hop.
func (h *ArtifactHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	if h.resolver == nil {
		return nil, errors.New("no artifact resolver configured")
	}

	var (
		target    ResolvedArtifact
		entry     manifest.Entry
		entryPath string
	)
	cur := uri
	for hop := 0; ; hop++ {
		if hop == maxRefChain {
			return nil, fmt.Errorf("reference chain from %s exceeds %d hops: %w", uri, maxRefChain, errdef.ErrInvalidReference)
		}
		id, p, err := splitArtifactURI(cur)
		if err != nil {
			return nil, err
		}
		target, err = h.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		e, ok := target.Entry(p)
		if !ok {
			return nil, fmt.Errorf("artifact %s has no entry %q: %w", id, p, errdef.ErrNotFound)
		}
		entry, entryPath = e, p
		if !strings.HasPrefix(entry.Ref, ArtifactScheme+"://") {
			break
		}
		cur = entry.Ref
	}

	name := opts.Name
	if name == "" {
		name = path.Base(entryPath)
	}
	// cross-artifact entries declare no size of their own; the target
	// entry remains the source of truth
	size := int64(0)
	return []manifest.Entry{{
		Path:   name,
		Digest: entry.Digest,
		Size:   &size,
		Ref:    ArtifactURI(target.ID(), entryPath),
	}}, nil
}

// LoadPath materializes the referenced entry through its own artifact.
// Cache handling is the target artifact's business; a zero declared size
// makes a slot lookup here meaningless.
func (h *ArtifactHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if h.resolver == nil {
		return "", errors.New("no artifact resolver configured")
	}
	id, p, err := splitArtifactURI(entry.Ref)
	if err != nil {
		return "", err
	}
	target, err := h.resolver.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return target.ResolveEntry(ctx, p, local)
}

// splitArtifactURI splits verso-artifact://<id>/<path> into its id and
// entry path.
func splitArtifactURI(uri string) (id, entryPath string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	if u.Scheme != ArtifactScheme || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
		return "", "", fmt.Errorf("%s is not a valid artifact reference: %w", uri, errdef.ErrInvalidReference)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
