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

	"verso.land/verso-go/errdef"
	"verso.land/verso-go/internal/log"
	"verso.land/verso-go/manifest"
)

// TrackingHandler records references with unrecognized schemes as they
// are, with no checksumming or special processing. Useful when the
// tracked paths live on file systems mounted at a standardized location,
// such as an NFS share every reader has under the same mount point.
type TrackingHandler struct{}

// NewTrackingHandler returns a handler that tracks paths verbatim.
func NewTrackingHandler() *TrackingHandler {
	return &TrackingHandler{}
}

// StorePath records the URI itself as the entry digest. The entry name
// cannot be derived from a URI this handler knows nothing about, so
// opts.Name is required.
func (h *TrackingHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("a name is required when tracking references with unknown schemes: %s: %w",
			uri, errdef.ErrInvalidReference)
	}
	log.G(ctx).WithField("ref", uri).Warn("references with unsupported schemes cannot be checksummed")
	return []manifest.Entry{{
		Path:   opts.Name,
		Digest: uri,
		Ref:    uri,
	}}, nil
}

// LoadPath returns the logical path of the entry. The handler is
// oblivious to the underlying storage, so it has no way of producing a
// local copy.
func (h *TrackingHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if local {
		return "", fmt.Errorf("cannot download %s: %w", entry.Ref, errdef.ErrUnsupportedScheme)
	}
	return entry.Path, nil
}
