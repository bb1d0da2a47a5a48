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

//go:build windows

package atime

import (
	"os"
	"syscall"
	"time"
)

// Get returns the last access time recorded in fi.
func Get(fi os.FileInfo) time.Time {
	st := fi.Sys().(*syscall.Win32FileAttributeData)
	return time.Unix(0, st.LastAccessTime.Nanoseconds())
}
