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
	"regexp"
	"sync"

	"github.com/google/uuid"

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/manifest"
	"verso.land/verso-go/storage"
)

// State is the lifecycle position of an artifact.
type State string

const (
	// StatePending accepts mutation; nothing is durable yet.
	StatePending State = "PENDING"

	// StateCommitted means the manifest and any new bytes are durably
	// recorded upstream. The artifact is frozen.
	StateCommitted State = "COMMITTED"

	// StateDeleted is terminal.
	StateDeleted State = "DELETED"
)

// maxMetadataKeys bounds user metadata.
const maxMetadataKeys = 100

var artifactNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Artifact is a named bundle of files and references tracked as one
// unit. Entries accumulate while the artifact is PENDING; Commit freezes
// the manifest and pins the digest. Methods are safe for concurrent use.
type Artifact struct {
	mu sync.Mutex

	name        string
	typ         string
	description string
	metadata    map[string]any
	aliases     []string

	state    State
	manifest *manifest.Manifest
	digest   string
	id       string
	clientID string

	policy *storage.Policy
}

// New returns a PENDING artifact with a default storage policy. The name
// may contain alphanumeric characters, dashes, underscores and dots.
func New(name, artifactType string) (*Artifact, error) {
	policy, err := storage.NewPolicy(storage.Options{})
	if err != nil {
		return nil, err
	}
	return NewWithPolicy(name, artifactType, policy)
}

// NewWithPolicy returns a PENDING artifact storing and resolving entries
// through policy.
func NewWithPolicy(name, artifactType string, policy *storage.Policy) (*Artifact, error) {
	if !artifactNameRe.MatchString(name) {
		return nil, fmt.Errorf("artifact name may only contain alphanumeric characters, dashes, underscores, and dots: %q", name)
	}
	return &Artifact{
		name:     name,
		typ:      artifactType,
		metadata: make(map[string]any),
		state:    StatePending,
		manifest: manifest.New(),
		clientID: uuid.NewString(),
		policy:   policy,
	}, nil
}

// Name returns the artifact name.
func (a *Artifact) Name() string {
	return a.name
}

// Type returns the artifact type.
func (a *Artifact) Type() string {
	return a.typ
}

// State returns the lifecycle state.
func (a *Artifact) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ID returns the backend id once committed, and the client id before.
// Either form addresses the artifact in cross-artifact references.
func (a *Artifact) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != "" {
		return a.id
	}
	return a.clientID
}

// ClientID returns the process-local id assigned at construction.
func (a *Artifact) ClientID() string {
	return a.clientID
}

// Description returns the artifact description.
func (a *Artifact) Description() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.description
}

// Metadata returns a copy of the artifact metadata.
func (a *Artifact) Metadata() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	md := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		md[k] = v
	}
	return md
}

// Aliases returns a copy of the artifact aliases.
func (a *Artifact) Aliases() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.aliases...)
}

// Manifest returns the artifact manifest. Mutate entries through the
// artifact, not the manifest, so lifecycle gates apply.
func (a *Artifact) Manifest() *manifest.Manifest {
	return a.manifest
}

// Digest returns the manifest digest: the digest pinned at Commit, or
// the live manifest digest while the artifact is still PENDING.
func (a *Artifact) Digest() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.digest != "" {
		return a.digest
	}
	return a.manifest.Digest()
}

// Entry returns the manifest entry stored at path.
func (a *Artifact) Entry(path string) (manifest.Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.Entry(path)
}

// EntriesInDirectory returns the entries below the directory prefix,
// sorted by path.
func (a *Artifact) EntriesInDirectory(prefix string) []manifest.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.EntriesInDirectory(prefix)
}

// SetDescription sets the artifact description.
func (a *Artifact) SetDescription(description string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensurePendingLocked(); err != nil {
		return err
	}
	a.description = description
	return nil
}

// SetMetadata replaces the artifact metadata. At most maxMetadataKeys
// keys are accepted.
func (a *Artifact) SetMetadata(metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensurePendingLocked(); err != nil {
		return err
	}
	if len(metadata) > maxMetadataKeys {
		return fmt.Errorf("metadata accepts at most %d keys, got %d", maxMetadataKeys, len(metadata))
	}
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	a.metadata = md
	return nil
}

// AddAlias attaches an alias to the artifact. Duplicates are ignored.
func (a *Artifact) AddAlias(alias string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensurePendingLocked(); err != nil {
		return err
	}
	for _, existing := range a.aliases {
		if existing == alias {
			return nil
		}
	}
	a.aliases = append(a.aliases, alias)
	return nil
}

// AddFile stages the local file at localPath as an entry named name,
// defaulting to the file's base name. The bytes stay where they are
// until an uploader consumes StagedFiles.
func (a *Artifact) AddFile(ctx context.Context, localPath, name string) (manifest.Entry, error) {
	if err := a.ensurePending(); err != nil {
		return manifest.Entry{}, err
	}
	entry, err := a.policy.StoreFile(ctx, localPath, name)
	if err != nil {
		return manifest.Entry{}, err
	}
	if err := a.addEntries(entry); err != nil {
		return manifest.Entry{}, err
	}
	return entry, nil
}

// AddDir stages every file under localPath, checksumming in parallel.
// Entry paths are relative to localPath, under namePrefix when given.
func (a *Artifact) AddDir(ctx context.Context, localPath, namePrefix string) ([]manifest.Entry, error) {
	if err := a.ensurePending(); err != nil {
		return nil, err
	}
	entries, err := a.policy.StoreDir(ctx, localPath, namePrefix)
	if err != nil {
		return nil, err
	}
	if err := a.addEntries(entries...); err != nil {
		return nil, err
	}
	return entries, nil
}

// AddReference tracks the object (or prefix of objects) at uri. The
// entries record digests and provenance, not bytes; resolving them later
// may fetch through the cache.
func (a *Artifact) AddReference(ctx context.Context, uri string, opts storage.ReferenceOptions) ([]manifest.Entry, error) {
	if err := a.ensurePending(); err != nil {
		return nil, err
	}
	entries, err := a.policy.StoreReference(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	if err := a.addEntries(entries...); err != nil {
		return nil, err
	}
	return entries, nil
}

// ResolveEntry materializes the entry at path. References dispatch
// through the storage policy; staged files resolve to their staging
// location; anything else is served from the cache when present.
// Committed bytes absent from the cache are the backend transport's
// business, reported here as not found.
func (a *Artifact) ResolveEntry(ctx context.Context, path string, local bool) (string, error) {
	a.mu.Lock()
	if a.state == StateDeleted {
		a.mu.Unlock()
		return "", fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactDeleted)
	}
	entry, ok := a.manifest.Entry(path)
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("artifact %s has no entry %q: %w", a.name, path, errdef.ErrNotFound)
	}

	if entry.Ref != "" {
		return a.policy.LoadReference(ctx, entry, local)
	}
	if entry.LocalPath != "" {
		return entry.LocalPath, nil
	}
	var size int64
	if entry.Size != nil {
		size = *entry.Size
	}
	slot, err := a.policy.Cache().ContentSlot(hashutil.B64MD5(entry.Digest), size)
	if err == nil && slot.Cached() {
		return slot.Path(), nil
	}
	return "", fmt.Errorf("artifact %s entry %q has no local source: %w", a.name, path, errdef.ErrNotFound)
}

// StagedFile locates the bytes of one staged entry for an uploader.
type StagedFile struct {
	Path      string
	LocalPath string
	Size      int64
	Digest    string
}

// StagedFiles returns the entries whose bytes still live in their
// staging location, sorted by path.
func (a *Artifact) StagedFiles() []StagedFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	var staged []StagedFile
	for _, entry := range a.manifest.Entries() {
		if entry.LocalPath == "" {
			continue
		}
		var size int64
		if entry.Size != nil {
			size = *entry.Size
		}
		staged = append(staged, StagedFile{
			Path:      entry.Path,
			LocalPath: entry.LocalPath,
			Size:      size,
			Digest:    entry.Digest,
		})
	}
	return staged
}

// MarkUploaded records that the staged bytes of the entry at path are
// durable upstream and drops the staging location. It reports whether
// the entry exists.
func (a *Artifact) MarkUploaded(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.ClearLocalPath(path)
}

// Commit freezes the artifact under the backend-assigned id. The
// manifest digest is pinned as the artifact digest.
func (a *Artifact) Commit(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateDeleted:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactDeleted)
	case StateCommitted:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactFinalized)
	}
	a.id = id
	a.digest = a.manifest.Digest()
	a.state = StateCommitted
	return nil
}

// Delete marks a committed artifact deleted. The transition is terminal.
func (a *Artifact) Delete() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StatePending:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactNotCommitted)
	case StateDeleted:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactDeleted)
	}
	a.state = StateDeleted
	return nil
}

func (a *Artifact) ensurePending() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensurePendingLocked()
}

func (a *Artifact) ensurePendingLocked() error {
	switch a.state {
	case StateDeleted:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactDeleted)
	case StateCommitted:
		return fmt.Errorf("artifact %s: %w", a.name, errdef.ErrArtifactFinalized)
	default:
		return nil
	}
}

// addEntries inserts entries into the manifest, re-checking the
// lifecycle gate since stores run unlocked.
func (a *Artifact) addEntries(entries ...manifest.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensurePendingLocked(); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := a.manifest.Add(entry); err != nil {
			return err
		}
	}
	return nil
}
