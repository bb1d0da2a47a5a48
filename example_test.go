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

package verso_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"verso.land/verso-go"
	"verso.land/verso-go/cache"
	"verso.land/verso-go/storage"
)

// Example_buildAndCommit builds an artifact from a local file and
// commits it.
func Example_buildAndCommit() {
	tempDir, err := os.MkdirTemp("", "verso_example_*")
	if err != nil {
		panic(err) // Handle error
	}
	defer os.RemoveAll(tempDir)

	dataFile := filepath.Join(tempDir, "file1.txt")
	if err := os.WriteFile(dataFile, []byte("hello"), 0o644); err != nil {
		panic(err) // Handle error
	}

	store, err := cache.New(filepath.Join(tempDir, "cache"))
	if err != nil {
		panic(err) // Handle error
	}
	policy, err := storage.NewPolicy(storage.Options{Cache: store})
	if err != nil {
		panic(err) // Handle error
	}
	artifact, err := verso.NewWithPolicy("training-set", "dataset", policy)
	if err != nil {
		panic(err) // Handle error
	}

	ctx := context.Background()
	entry, err := artifact.AddFile(ctx, dataFile, "")
	if err != nil {
		panic(err) // Handle error
	}
	fmt.Println(entry.Path, entry.Digest)

	if err := artifact.Commit("artifact-001"); err != nil {
		panic(err) // Handle error
	}
	fmt.Println(artifact.State(), artifact.Digest())

	// Output:
	// file1.txt XUFAKrxLKna5cZ2REBfFkg==
	// COMMITTED 88c6ab2db5f76927cfa3a17be1f0be8a
}

// Example_resolveReference tracks an entry of one artifact from another
// and materializes it through the resolver.
func Example_resolveReference() {
	tempDir, err := os.MkdirTemp("", "verso_example_*")
	if err != nil {
		panic(err) // Handle error
	}
	defer os.RemoveAll(tempDir)

	dataFile := filepath.Join(tempDir, "file1.txt")
	if err := os.WriteFile(dataFile, []byte("hello"), 0o644); err != nil {
		panic(err) // Handle error
	}

	resolver := verso.NewMemoryResolver()
	newArtifact := func(name, artifactType string) *verso.Artifact {
		store, err := cache.New(filepath.Join(tempDir, "cache-"+name))
		if err != nil {
			panic(err) // Handle error
		}
		policy, err := storage.NewPolicy(storage.Options{Cache: store, Resolver: resolver})
		if err != nil {
			panic(err) // Handle error
		}
		a, err := verso.NewWithPolicy(name, artifactType, policy)
		if err != nil {
			panic(err) // Handle error
		}
		return a
	}

	ctx := context.Background()
	base := newArtifact("base", "dataset")
	if _, err := base.AddFile(ctx, dataFile, ""); err != nil {
		panic(err) // Handle error
	}
	resolver.Register(base)

	derived := newArtifact("derived", "model")
	if _, err := derived.AddReference(ctx, storage.ArtifactURI(base.ID(), "file1.txt"), storage.ReferenceOptions{}); err != nil {
		panic(err) // Handle error
	}

	local, err := derived.ResolveEntry(ctx, "file1.txt", true)
	if err != nil {
		panic(err) // Handle error
	}
	content, err := os.ReadFile(local)
	if err != nil {
		panic(err) // Handle error
	}
	fmt.Println(string(content))

	// Output:
	// hello
}
