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

package errdef

import (
	"errors"
	"fmt"
)

// Common errors used in verso
var (
	ErrArtifactDeleted      = errors.New("artifact deleted")
	ErrArtifactFinalized    = errors.New("artifact finalized")
	ErrArtifactNotCommitted = errors.New("artifact not committed")
	ErrDigestConflict       = errors.New("digest conflict")
	ErrDigestMismatch       = errors.New("digest mismatch")
	ErrIncompleteDownload   = errors.New("incomplete download")
	ErrInvalidDigest        = errors.New("invalid digest")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrNotFound             = errors.New("not found")
	ErrQuotaExceeded        = errors.New("object quota exceeded")
	ErrUnsupportedScheme    = errors.New("unsupported URI scheme")
	ErrUnsupportedVersion   = errors.New("unsupported version")
	ErrUnsupportedWriteMode = errors.New("unsupported cache write mode")
)

// ReferenceErrorOp identifies which half of the storage handler contract
// produced a ReferenceError.
type ReferenceErrorOp = string

const (
	ReferenceErrorOpStore ReferenceErrorOp = "store"
	ReferenceErrorOpLoad  ReferenceErrorOp = "load"
)

// ReferenceError describes a failure while storing or loading a reference
// through a storage handler.
type ReferenceError struct {
	Op     ReferenceErrorOp
	Scheme string
	URI    string
	Err    error
}

func NewReferenceError(op ReferenceErrorOp, scheme, uri string, err error) error {
	switch op {
	case ReferenceErrorOpStore, ReferenceErrorOpLoad:
	default:
		op = ReferenceErrorOpStore
	}

	return &ReferenceError{
		Op:     op,
		Scheme: scheme,
		URI:    uri,
		Err:    err,
	}
}

func (e *ReferenceError) Error() string {
	switch e.Op {
	case ReferenceErrorOpLoad:
		return fmt.Sprintf("error loading %s reference %q: %v", e.Scheme, e.URI, e.Err)
	default:
		return fmt.Sprintf("error storing %s reference %q: %v", e.Scheme, e.URI, e.Err)
	}
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}
