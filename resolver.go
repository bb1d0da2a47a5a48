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

package verso

import (
	"context"
	"fmt"
	"sync"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/storage"
)

// MemoryResolver resolves artifact references against artifacts
// registered in process, so pending artifacts can reference each other
// without a backend. Artifacts match on either their backend id or
// their client id, whichever the reference was built with.
type MemoryResolver struct {
	mu        sync.RWMutex
	artifacts []*Artifact
}

// NewMemoryResolver returns an empty resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{}
}

// Register makes an artifact resolvable. Registering the same artifact
// twice is a no-op.
func (r *MemoryResolver) Register(a *Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.artifacts {
		if existing == a {
			return
		}
	}
	r.artifacts = append(r.artifacts, a)
}

// Resolve implements storage.ArtifactResolver.
func (r *MemoryResolver) Resolve(ctx context.Context, id string) (storage.ResolvedArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.artifacts {
		if a.ID() == id || a.ClientID() == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("artifact %s: %w", id, errdef.ErrNotFound)
}
