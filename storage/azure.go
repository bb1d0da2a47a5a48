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
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"verso.land/verso-go/cache"
	"verso.land/verso-go/errdef"
	"verso.land/verso-go/hashutil"
	"verso.land/verso-go/internal/log"
	"verso.land/verso-go/manifest"
)

// AzureBlobInfo describes one blob, or one version of one blob.
type AzureBlobInfo struct {
	Name      string
	Size      int64
	ETag      string
	VersionID string
}

// AzureAPI is the slice of the Blob Storage client the handler depends
// on. An empty versionID on download addresses the live blob.
type AzureAPI interface {
	BlobProperties(ctx context.Context, container, blob string) (AzureBlobInfo, error)
	ListBlobs(ctx context.Context, container, prefix string) ([]AzureBlobInfo, error)
	ListBlobVersions(ctx context.Context, container, blob string) ([]AzureBlobInfo, error)
	DownloadBlob(ctx context.Context, container, blob, versionID string) (io.ReadCloser, error)
}

// azureClient adapts an account-level *azblob.Client to AzureAPI.
type azureClient struct {
	client *azblob.Client
}

func (c *azureClient) BlobProperties(ctx context.Context, containerName, blobName string) (AzureBlobInfo, error) {
	props, err := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return AzureBlobInfo{}, err
	}
	info := AzureBlobInfo{Name: blobName}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	if props.VersionID != nil {
		info.VersionID = *props.VersionID
	}
	return info, nil
}

func (c *azureClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]AzureBlobInfo, error) {
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	var infos []AzureBlobInfo
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			infos = append(infos, blobItemInfo(item))
		}
	}
	return infos, nil
}

func (c *azureClient) ListBlobVersions(ctx context.Context, containerName, blobName string) ([]AzureBlobInfo, error) {
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix:  &blobName,
		Include: azblob.ListBlobsInclude{Versions: true},
	})
	var infos []AzureBlobInfo
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			info := blobItemInfo(item)
			// the prefix listing may surface longer names
			if info.Name != blobName {
				continue
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (c *azureClient) DownloadBlob(ctx context.Context, containerName, blobName, versionID string) (io.ReadCloser, error) {
	blobClient := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
	if versionID != "" {
		var err error
		blobClient, err = blobClient.WithVersionID(versionID)
		if err != nil {
			return nil, err
		}
	}
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func blobItemInfo(item *container.BlobItem) AzureBlobInfo {
	var info AzureBlobInfo
	if item.Name != nil {
		info.Name = *item.Name
	}
	if item.VersionID != nil {
		info.VersionID = *item.VersionID
	}
	if item.Properties != nil {
		if item.Properties.ContentLength != nil {
			info.Size = *item.Properties.ContentLength
		}
		if item.Properties.ETag != nil {
			info.ETag = string(*item.Properties.ETag)
		}
	}
	return info
}

// AzureHandler tracks and fetches az:// references of the form
// az://<account host>/<container>/<blob>. Clients are created per
// account and reused, since one artifact may reference several accounts.
type AzureHandler struct {
	cache *cache.Store

	mu      sync.Mutex
	apis    map[string]AzureAPI
	factory func(accountURL string) (AzureAPI, error)
}

// NewAzureHandler returns a handler backed by store. If factory is nil,
// account clients are built with default Azure credentials on first use.
func NewAzureHandler(factory func(accountURL string) (AzureAPI, error), store *cache.Store) *AzureHandler {
	if factory == nil {
		factory = defaultAzureClient
	}
	return &AzureHandler{
		cache:   store,
		apis:    make(map[string]AzureAPI),
		factory: factory,
	}
}

func defaultAzureClient(accountURL string) (AzureAPI, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Azure: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Azure: %w", err)
	}
	return &azureClient{client: client}, nil
}

func (h *AzureHandler) client(host string) (AzureAPI, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if api, ok := h.apis[host]; ok {
		return api, nil
	}
	api, err := h.factory("https://" + host)
	if err != nil {
		return nil, err
	}
	h.apis[host] = api
	return api, nil
}

// StorePath tracks the blob at uri, or every blob under it when uri
// names a prefix rather than a single blob.
func (h *AzureHandler) StorePath(ctx context.Context, uri string, opts ReferenceOptions) ([]manifest.Entry, error) {
	host, containerName, blobName, err := parseAzureURI(uri)
	if err != nil {
		return nil, err
	}
	if opts.SkipChecksum {
		name := opts.Name
		if name == "" {
			name = blobName
		}
		return []manifest.Entry{{Path: name, Digest: uri, Ref: uri}}, nil
	}

	api, err := h.client(host)
	if err != nil {
		return nil, err
	}
	if blobName == "" {
		// container-level reference
		return h.storePrefix(ctx, api, uri, containerName, blobName, opts)
	}
	info, err := api.BlobProperties(ctx, containerName, blobName)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("unable to connect to Azure: %w", err)
		}
		// no such blob, treat the uri as a prefix
		return h.storePrefix(ctx, api, uri, containerName, blobName, opts)
	}

	name := opts.Name
	if name == "" {
		name = path.Base(blobName)
	}
	return []manifest.Entry{azureEntry(name, uri, info)}, nil
}

func (h *AzureHandler) storePrefix(ctx context.Context, api AzureAPI, uri, containerName, prefix string, opts ReferenceOptions) ([]manifest.Entry, error) {
	log.G(ctx).Infof("generating checksums for up to %d blobs with prefix %q", opts.MaxObjects, prefix)
	start := time.Now()

	infos, err := api.ListBlobs(ctx, containerName, prefix)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Azure: %w", err)
	}

	var entries []manifest.Entry
	for _, info := range infos {
		if info.Size <= 0 {
			// zero-byte blobs are directory placeholders
			continue
		}
		if len(entries) == opts.MaxObjects {
			return nil, fmt.Errorf("exceeded %d objects tracked, raise MaxObjects to track larger prefixes: %w",
				opts.MaxObjects, errdef.ErrQuotaExceeded)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(info.Name, prefix), "/")
		ref := joinRef(uri, name)
		if name == "" {
			name, ref = path.Base(info.Name), uri
		}
		if opts.Name != "" {
			name = path.Join(opts.Name, name)
		}
		entries = append(entries, azureEntry(name, ref, info))
	}

	log.G(ctx).Infof("generated %d checksums in %v", len(entries), time.Since(start).Round(time.Millisecond))
	return entries, nil
}

// azureEntry builds the entry for one blob. Blob Storage reports no MD5
// for blobs above the single-put threshold, so the etag is the digest,
// as for S3.
func azureEntry(name, ref string, info AzureBlobInfo) manifest.Entry {
	size := info.Size
	etag := trimETagQuotes(info.ETag)
	extra := map[string]string{extraKeyETag: etag}
	if info.VersionID != "" {
		extra[extraKeyVersionID] = info.VersionID
	}
	return manifest.Entry{
		Path:   name,
		Digest: etag,
		Size:   &size,
		Ref:    ref,
		Extra:  extra,
	}
}

// LoadPath returns the reference location of entry, fetching the blob
// into the cache first when local is set. When the live blob no longer
// matches the tracked digest, the version history is searched for the
// tracked etag before giving up.
func (h *AzureHandler) LoadPath(ctx context.Context, entry manifest.Entry, local bool) (string, error) {
	if !local {
		return entry.Ref, nil
	}
	slot := h.cache.URLSlot(entry.Ref, hashutil.ETag(entry.Digest), entrySize(entry))
	if slot.Cached() {
		return slot.Path(), nil
	}

	host, containerName, blobName, err := parseAzureURI(entry.Ref)
	if err != nil {
		return "", err
	}
	api, err := h.client(host)
	if err != nil {
		return "", err
	}

	versionID := entry.Extra[extraKeyVersionID]
	if versionID == "" {
		info, err := api.BlobProperties(ctx, containerName, blobName)
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound) {
				return "", fmt.Errorf("blob %s: %w", entry.Ref, errdef.ErrNotFound)
			}
			return "", fmt.Errorf("unable to connect to Azure: %w", err)
		}
		if live := trimETagQuotes(info.ETag); live != entry.Digest {
			versionID, err = h.matchVersion(ctx, api, containerName, blobName, entry)
			if err != nil {
				return "", err
			}
		}
	}

	body, err := api.DownloadBlob(ctx, containerName, blobName, versionID)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return "", fmt.Errorf("blob %s: %w", entry.Ref, errdef.ErrNotFound)
		}
		return "", fmt.Errorf("unable to connect to Azure: %w", err)
	}
	defer body.Close()

	if err := fetchToSlot(slot, body, entrySize(entry), entry.Ref); err != nil {
		return "", err
	}
	return slot.Path(), nil
}

// matchVersion scans the version history of the blob for the etag the
// entry was tracked with.
func (h *AzureHandler) matchVersion(ctx context.Context, api AzureAPI, containerName, blobName string, entry manifest.Entry) (string, error) {
	versions, err := api.ListBlobVersions(ctx, containerName, blobName)
	if err != nil {
		return "", fmt.Errorf("unable to connect to Azure: %w", err)
	}
	for _, v := range versions {
		if trimETagQuotes(v.ETag) == entry.Digest {
			return v.VersionID, nil
		}
	}
	return "", fmt.Errorf("couldn't find blob version for %s/%s matching etag %s: %w",
		containerName, blobName, entry.Digest, errdef.ErrNotFound)
}

// parseAzureURI splits az://<account host>/<container>/<blob> into its
// parts. The blob part may be empty or name a prefix.
func parseAzureURI(uri string) (host, containerName, blobName string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("%s: %v: %w", uri, err, errdef.ErrInvalidReference)
	}
	containerName, blobName, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if u.Host == "" || containerName == "" {
		return "", "", "", fmt.Errorf("%s has no container: %w", uri, errdef.ErrInvalidReference)
	}
	return u.Host, containerName, blobName, nil
}
