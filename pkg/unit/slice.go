/*
   Copyright The sysd Authors.

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

package unit

import "strings"

// Slice names a node in the control-group hierarchy. Dashes encode nesting:
// a-b.slice lives under a.slice.
type Slice struct {
	Base
}

// NewSlice projects a parsed file into a Slice.
func NewSlice(name string, f *File) (*Slice, error) {
	s := &Slice{Base: newBase(name)}
	s.parseCommon(f)
	return s, nil
}

func (s *Slice) Kind() Kind { return KindSlice }

// CgroupPath returns the slice's path relative to the cgroup2 mount point:
// "a-b.slice" -> "a.slice/a-b.slice", "-.slice" -> "".
func (s *Slice) CgroupPath() string {
	return SliceCgroupPath(s.UnitName)
}

// SliceCgroupPath derives the relative cgroup path for a slice name. Each
// dash-separated prefix becomes a parent slice directory.
func SliceCgroupPath(name string) string {
	name = strings.TrimSuffix(name, ".slice")
	if name == "" || name == "-" {
		return ""
	}
	parts := strings.Split(name, "-")
	var (
		segs   []string
		prefix string
	)
	for _, p := range parts {
		if prefix == "" {
			prefix = p
		} else {
			prefix = prefix + "-" + p
		}
		segs = append(segs, prefix+".slice")
	}
	return strings.Join(segs, "/")
}
