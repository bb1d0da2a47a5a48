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

// Package hashutil computes and converts the content digests used
// throughout verso. Digests identify content for deduplication; they are
// not a security boundary, which is why MD5 is acceptable here.
package hashutil

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"verso.land/verso-go/errdef"
)

// B64MD5 is a standard-base64-encoded MD5 digest, the canonical digest
// form for locally hashed content.
type B64MD5 string

// ETag is an entity tag reported by a remote backend. Its format is
// backend-defined and treated as opaque.
type ETag string

// bufPool is a pool of byte buffers reused for streaming files through
// the hash. 64 KiB keeps memory flat for arbitrarily large files.
var bufPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, 64<<10)
		return &buffer
	},
}

// ComputeB64MD5 returns the B64MD5 digest of data.
func ComputeB64MD5(data []byte) B64MD5 {
	sum := md5.Sum(data)
	return B64MD5(base64.StdEncoding.EncodeToString(sum[:]))
}

// ComputeFileB64MD5 returns the B64MD5 digest of the file at path,
// streaming it in fixed-size chunks. The result is identical to
// ComputeB64MD5 over the file's bytes.
func ComputeFileB64MD5(path string) (B64MD5, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)
	if _, err := io.CopyBuffer(h, f, *buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return B64MD5(base64.StdEncoding.EncodeToString(h.Sum(nil))), nil
}

// B64ToHex converts a base64-encoded digest to its lowercase hex form.
func B64ToHex(digest B64MD5) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(string(digest))
	if err != nil {
		return "", fmt.Errorf("%q: %w", digest, errdef.ErrInvalidDigest)
	}
	return hex.EncodeToString(raw), nil
}

// HexToB64 converts a hex-encoded digest to its standard base64 form.
func HexToB64(hexdigest string) (B64MD5, error) {
	raw, err := hex.DecodeString(hexdigest)
	if err != nil {
		return "", fmt.Errorf("%q: %w", hexdigest, errdef.ErrInvalidDigest)
	}
	return B64MD5(base64.StdEncoding.EncodeToString(raw)), nil
}
