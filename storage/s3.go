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
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"verso.land/verso-go/cache"
	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/log"
	"verso.land/verso-go/manifest"
)

// envS3Endpoint points the client at an S3-compatible server such as
// MinIO. Path-style addressing is enabled alongside it, as virtual-host
// addressing rarely works outside AWS.
const envS3Endpoint = "AWS_S3_ENDPOINT_URL"

// S3API is the slice of the S3 client the handler depends on.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	GetBucketVersioning(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
}

// S3Handler tracks and fetches s3:// references. Tracked objects carry
// their etag as digest and, on versioned buckets, the object version, so
// later fetches can pin the exact bytes that were tracked.
type S3Handler struct {
	cache *cache.Store

	mu         sync.Mutex
	api        S3API
	versioning map[string]bool
}

// NewS3Handler returns a handler backed by store. If api is nil, a
// client is built from the ambient AWS configuration on first use.
func NewS3Handler(api S3API, store *cache.Store) *S3Handler {
	return &S3Handler{
		cache:      store,
		api:        api,
		versioning: make(map[string]bool),
	}
}

func (h *S3Handler) client(ctx context.Context) (S3API, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.api != nil {
		return h.api, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to S3: %w", err)
	}
	h.api = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := os.Getenv(envS3Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return h.api, nil
}

// StorePath tracks the object at uri, or every object under it when uri
// names a prefix rather than a single key.
func (h *S3Handler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	bucket, key, err := parseBucketURI(uri)
	if err != nil {
		return nil, err
	}
	if opts.SkipChecksum {
		name := opts.Name
		if name == "" {
			name = key
		}
		return []manifest.Entry{{Path: name, Digest: uri, Ref: uri}}, nil
	}

	api, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	head, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("unable to connect to S3: %w", err)
		}
		// no such key, treat the uri as a prefix
		return h.storePrefix(ctx, api, uri, bucket, key, opts)
	}

	name := opts.Name
	if name == "" {
		name = path.Base(key)
	}
	size := aws.ToInt64(head.ContentLength)
	return []manifest.Entry{{
		Path:   name,
		Digest: trimETagQuotes(aws.ToString(head.ETag)),
		Size:   &size,
		Ref:    uri,
		Extra:  s3Extra(aws.ToString(head.ETag), aws.ToString(head.VersionId)),
	}}, nil
}

func (h *S3Handler) storePrefix(ctx context.Context, api S3API, uri, bucket, prefix string, opts ReferenceOptions) ([]manifest.Entry, error) {
	log.G(ctx).Infof("generating checksums for up to %d objects with prefix %q", opts.MaxObjects, prefix)
	start := time.Now()

	var entries []manifest.Entry
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := api.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to S3: %w", err)
		}
		for _, obj := range out.Contents {
			if aws.ToInt64(obj.Size) <= 0 {
				// zero-byte keys are directory placeholders
				continue
			}
			if len(entries) == opts.MaxObjects {
				return nil, fmt.Errorf("exceeded %d objects tracked, raise MaxObjects to track larger prefixes: %w",
					opts.MaxObjects, errdef.ErrQuotaExceeded)
			}
			entries = append(entries, s3ListedEntry(uri, prefix, obj, opts))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}

	log.G(ctx).Infof("generated %d checksums in %v", len(entries), time.Since(start).Round(time.Millisecond))
	return entries, nil
}

// s3ListedEntry builds the entry for one object of a prefix listing. The
// logical path is the key relative to the prefix; listings never report
// version ids, so the extra carries the etag alone.
func s3ListedEntry(uri, prefix string, obj types.Object, opts ReferenceOptions) manifest.Entry {
	key := aws.ToString(obj.Key)
	name := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	ref := joinRef(uri, name)
	if name == "" {
		name, ref = path.Base(key), uri
	}
	if opts.Name != "" {
		name = path.Join(opts.Name, name)
	}
	size := aws.ToInt64(obj.Size)
	return manifest.Entry{
		Path:   name,
		Digest: trimETagQuotes(aws.ToString(obj.ETag)),
		Size:   &size,
		Ref:    ref,
		Extra:  map[string]string{extraKeyETag: trimETagQuotes(aws.ToString(obj.ETag))},
	}
}

// s3Extra carries the raw etag and, on versioned buckets, the version of
// the object at tracking time. Unversioned buckets report the literal
// version "null", which is omitted.
func s3Extra(etag, versionID string) map[string]string {
	extra := map[string]string{extraKeyETag: trimETagQuotes(etag)}
	if versionID != "" && versionID != "null" {
		extra[extraKeyVersionID] = versionID
	}
	return extra
}

// LoadPath returns the reference location of entry, fetching the object
// into the cache first when local is set. When the live object no longer
// matches the tracked digest, the version history is searched for the
// tracked etag before giving up.
func (h *S3Handler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if !local {
		return entry.Ref, nil
	}
	slot := h.cache.URLSlot(entry.Ref, hashutil.ETag(entry.Digest), entrySize(entry))
	if slot.Cached() {
		return slot.Path(), nil
	}

	api, err := h.client(ctx)
	if err != nil {
		return "", err
	}
	bucket, key, err := parseBucketURI(entry.Ref)
	if err != nil {
		return "", err
	}

	versionID := entry.Extra[extraKeyVersionID]
	if versionID == "" {
		live, err := h.liveETag(ctx, api, bucket, key)
		if err != nil {
			return "", err
		}
		if live != entry.Digest {
			versionID, err = h.matchVersion(ctx, api, bucket, key, entry, live)
			if err != nil {
				return "", err
			}
		}
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		in.VersionId = aws.String(versionID)
	}
	out, err := api.GetObject(ctx, in)
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return "", fmt.Errorf("object %s: %w", entry.Ref, errdef.ErrNotFound)
		}
		return "", fmt.Errorf("unable to connect to S3: %w", err)
	}
	defer out.Body.Close()

	if err := fetchToSlot(slot, out.Body, entrySize(entry), entry.Ref); err != nil {
		return "", err
	}
	return slot.Path(), nil
}

func (h *S3Handler) liveETag(ctx context.Context, api S3API, bucket, key string) (string, error) {
	head, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("object s3://%s/%s: %w", bucket, key, errdef.ErrNotFound)
		}
		return "", fmt.Errorf("unable to connect to S3: %w", err)
	}
	return trimETagQuotes(aws.ToString(head.ETag)), nil
}

// matchVersion searches the version history of bucket/key for the etag
// the entry was tracked with. Only versioned buckets keep a history
// worth searching; on others the live mismatch is final.
func (h *S3Handler) matchVersion(ctx context.Context, api S3API, bucket, key string, entry manifest.Entry, live string) (string, error) {
	enabled, err := h.versioningEnabled(ctx, api, bucket)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", fmt.Errorf("digest mismatch for object %s: expected %s but found %s: %w",
			entry.Ref, entry.Digest, live, errdef.ErrDigestMismatch)
	}

	want := entry.Extra[extraKeyETag]
	in := &s3.ListObjectVersionsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	}
	for {
		out, err := api.ListObjectVersions(ctx, in)
		if err != nil {
			return "", fmt.Errorf("unable to connect to S3: %w", err)
		}
		for _, v := range out.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			if trimETagQuotes(aws.ToString(v.ETag)) == want {
				return aws.ToString(v.VersionId), nil
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.VersionIdMarker = out.NextVersionIdMarker
	}
	return "", fmt.Errorf("couldn't find object version for %s/%s matching etag %s: %w",
		bucket, key, want, errdef.ErrNotFound)
}

func (h *S3Handler) versioningEnabled(ctx context.Context, api S3API, bucket string) (bool, error) {
	h.mu.Lock()
	enabled, ok := h.versioning[bucket]
	h.mu.Unlock()
	if ok {
		return enabled, nil
	}

	out, err := api.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return false, fmt.Errorf("unable to connect to S3: %w", err)
	}
	enabled = out.Status == types.BucketVersioningStatusEnabled

	h.mu.Lock()
	h.versioning[bucket] = enabled
	h.mu.Unlock()
	return enabled, nil
}

// parseBucketURI splits a bucket-addressed URI such as s3://bucket/key
// into its bucket and key.
func parseBucketURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%s has no bucket: %w", uri, errdef.ErrInvalidReference)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
