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
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"verso.land/verso-go/internal/atime"
	"verso.land/verso-go/internal/log"
)

// Cleanup walks the store once, removing leftover temporary files
// unconditionally and then evicting objects least-recently-accessed
// first until the live total is at or below target bytes. It returns
// the number of bytes reclaimed. An empty or absent store reclaims 0.
//
// Files that cannot be statted or removed are skipped; another process
// may legitimately be mutating the store during the walk.
func (s *Store) Cleanup(target int64) (int64, error) {
	type object struct {
		path  string
		size  int64
		atime time.Time
	}
	var (
		objects   []object
		total     int64
		reclaimed int64
	)
	err := filepath.WalkDir(filepath.Join(s.root, "obj"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			log.L.WithError(err).WithField("path", path).Debug("skipping unreadable cache path")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.L.WithError(err).WithField("path", path).Debug("skipping unstatable cache file")
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			if err := os.Remove(path); err != nil {
				log.L.WithError(err).WithField("path", path).Debug("failed to remove leftover temp file")
				return nil
			}
			reclaimed += info.Size()
			return nil
		}
		objects = append(objects, object{path: path, size: info.Size(), atime: atime.Get(info)})
		total += info.Size()
		return nil
	})
	if err != nil {
		return reclaimed, err
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].atime.Before(objects[j].atime)
	})
	for _, obj := range objects {
		if total <= target {
			break
		}
		if err := os.Remove(obj.path); err != nil {
			log.L.WithError(err).WithField("path", obj.path).Debug("failed to evict cache object")
			continue
		}
		total -= obj.size
		reclaimed += obj.size
	}
	return reclaimed, nil
}
