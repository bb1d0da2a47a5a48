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

// Package verso builds and consumes content-addressed artifacts: named,
// immutable bundles of files, directories and remote references,
// described by a deterministic manifest and backed by a shared local
// object cache.
//
// An Artifact starts PENDING. Local files and directories are staged
// into it with AddFile and AddDir; remote objects are tracked by
// reference with AddReference. Committing freezes the manifest and pins
// the artifact digest. Entry bytes are materialized on demand with
// ResolveEntry, which serves staged files directly and fetches
// references through the storage policy into the cache.
package verso
