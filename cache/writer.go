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

package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"verso.land/verso-go/errdef"
)

// tmpPrefix marks in-flight writes. Cleanup removes files bearing it
// unconditionally.
const tmpPrefix = "tmp_"

// Open starts a write into the slot. The object is written to a uniquely
// named temporary file in the destination directory and renamed into
// place on Close, so concurrent readers never observe a partial object.
// Cache objects are whole-file writes; os.O_APPEND is rejected with
// errdef.ErrUnsupportedWriteMode.
func (s Slot) Open(flag int) (*Writer, error) {
	if flag&os.O_APPEND != 0 {
		return nil, fmt.Errorf("open cache object %s with append flag: %w", s.path, errdef.ErrUnsupportedWriteMode)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	// CreateTemp restricts the mode to 0600; other processes sharing the
	// cache need to read the installed object.
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &Writer{file: tmp, path: s.path}, nil
}

// Writer writes one cache object. Exactly one of Close or Discard must
// be called; Close installs the object, Discard drops it.
type Writer struct {
	file *os.File
	path string
	done bool
}

// Write appends p to the pending object.
func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Close flushes the pending object and atomically renames it into place.
// On failure the temporary file is removed and the slot is left as it
// was.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.file.Name()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush %s: %w", tmpPath, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install cache object %s: %w", w.path, err)
	}
	return nil
}

// Discard abandons the write and removes the temporary file. The slot
// keeps whatever object it held before the write started.
func (w *Writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.file.Close()
	if rmErr := os.Remove(w.file.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
