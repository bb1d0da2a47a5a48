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
	"errors"
	"reflect"
	"testing"

	"verso.land/verso-go/errdef"
)

func TestManifest_WireFormat(t *testing.T) {
	m := New()
	err := m.Add(Entry{
		Path:      "file1.txt",
		Digest:    "XUFAKrxLKna5cZ2REBfFkg==",
		Size:      sizeOf(5),
		Ref:       "s3://bucket/file1.txt",
		Extra:     map[string]string{"etag": "abc"},
		LocalPath: "/tmp/file1.txt",
	})
	if err != nil {
		t.Fatal("Manifest.Add() error =", err)
	}

	got, err := m.WireFormat()
	if err != nil {
		t.Fatal("Manifest.WireFormat() error =", err)
	}
	want := `{"version":1,"contents":{"file1.txt":{"digest":"XUFAKrxLKna5cZ2REBfFkg==","size":5,"ref":"s3://bucket/file1.txt","extra":{"etag":"abc"}}}}`
	if string(got) != want {
		t.Errorf("Manifest.WireFormat() = %s, want %s", got, want)
	}
}

func TestManifest_WireRoundTrip(t *testing.T) {
	m := New()
	entries := []Entry{
		{Path: "file1.txt", Digest: "XUFAKrxLKna5cZ2REBfFkg==", Size: sizeOf(5), LocalPath: "/tmp/file1.txt"},
		{Path: "data/ref.bin", Digest: "etag-1", Size: sizeOf(42), Ref: "https://example.com/ref.bin", Extra: map[string]string{"etag": "etag-1"}},
		{Path: "tracked", Digest: "custom://handle", Ref: "custom://handle"},
	}
	for _, entry := range entries {
		if err := m.Add(entry); err != nil {
			t.Fatal("Manifest.Add() error =", err)
		}
	}

	data, err := m.WireFormat()
	if err != nil {
		t.Fatal("Manifest.WireFormat() error =", err)
	}
	parsed, err := FromWireFormat(data)
	if err != nil {
		t.Fatal("FromWireFormat() error =", err)
	}

	want := make([]Entry, 0, len(entries))
	for _, entry := range m.Entries() {
		entry.LocalPath = "" // staging state never crosses the wire
		want = append(want, entry)
	}
	if got := parsed.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("FromWireFormat() entries = %+v, want %+v", got, want)
	}
	if parsed.Digest() != m.Digest() {
		t.Errorf("digest changed across the wire: %v != %v", parsed.Digest(), m.Digest())
	}
}

func TestFromWireFormat_Version(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing version", data: `{"contents":{}}`},
		{name: "version zero", data: `{"version":0,"contents":{}}`},
		{name: "future version", data: `{"version":2,"contents":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromWireFormat([]byte(tt.data)); !errors.Is(err, errdef.ErrUnsupportedVersion) {
				t.Errorf("FromWireFormat() error = %v, want %v", err, errdef.ErrUnsupportedVersion)
			}
		})
	}
}

func TestFromWireFormat_Malformed(t *testing.T) {
	if _, err := FromWireFormat([]byte(`{"version":`)); err == nil {
		t.Error("FromWireFormat() error = nil, want non-nil")
	}
}

func TestFromWireFormat_Empty(t *testing.T) {
	m, err := FromWireFormat([]byte(`{"version":1,"contents":{}}`))
	if err != nil {
		t.Fatal("FromWireFormat() error =", err)
	}
	if m.Len() != 0 {
		t.Errorf("Manifest.Len() = %d, want 0", m.Len())
	}
}
