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

package manifest

import (
	"encoding/json"
	"fmt"

	"verso.land/verso-go/errdef"
)

// Version is the manifest wire format version this package reads and
// writes.
const Version = 1

type wireManifest struct {
	// Version is a pointer so that a document omitting the field is
	// distinguishable from version 0.
	Version  *int                 `json:"version"`
	Contents map[string]wireEntry `json:"contents"`
}

type wireEntry struct {
	Digest string            `json:"digest"`
	Size   *int64            `json:"size,omitempty"`
	Ref    string            `json:"ref,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// WireFormat serializes the manifest for an external uploader to commit.
// Entries appear keyed by path; LocalPath is deliberately absent.
func (m *Manifest) WireFormat() ([]byte, error) {
	version := Version
	wire := wireManifest{
		Version:  &version,
		Contents: make(map[string]wireEntry, len(m.entries)),
	}
	for path, entry := range m.entries {
		wire.Contents[path] = wireEntry{
			Digest: entry.Digest,
			Size:   entry.Size,
			Ref:    entry.Ref,
			Extra:  entry.Extra,
		}
	}
	return json.Marshal(wire)
}

// FromWireFormat parses a serialized manifest. Documents missing the
// version field or carrying a version this package does not understand
// are rejected with errdef.ErrUnsupportedVersion.
func FromWireFormat(data []byte) (*Manifest, error) {
	var wire wireManifest
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if wire.Version == nil {
		return nil, fmt.Errorf("manifest has no version: %w", errdef.ErrUnsupportedVersion)
	}
	if *wire.Version != Version {
		return nil, fmt.Errorf("manifest version %d: %w", *wire.Version, errdef.ErrUnsupportedVersion)
	}
	m := New()
	for path, entry := range wire.Contents {
		m.entries[path] = Entry{
			Path:   path,
			Digest: entry.Digest,
			Size:   entry.Size,
			Ref:    entry.Ref,
			Extra:  entry.Extra,
		}
	}
	return m, nil
}
