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

import (
	"strings"
	"time"
)

// Mount controls one mount point. The unit name encodes the mount point with
// '/' replaced by '-' ("dev-hugepages.mount" -> /dev/hugepages).
type Mount struct {
	Base

	What    string
	Where   string
	FSType  string
	Options string

	SloppyOptions bool
	LazyUnmount   bool
	ForceUnmount  bool
	ReadWriteOnly bool

	DirectoryMode uint32
	TimeoutSec    time.Duration
}

// NewMount projects a parsed file into a Mount. An empty Where= is derived
// from the unit name.
func NewMount(name string, f *File) (*Mount, error) {
	m := &Mount{Base: newBase(name), DirectoryMode: 0o755}
	m.parseCommon(f)
	m.parseInstall(f)

	if s := f.Section("Mount"); s != nil {
		m.What = s.Value("What")
		m.Where = s.Value("Where")
		m.FSType = s.Value("Type")
		m.Options = strings.Join(s.Values("Options"), ",")
		m.SloppyOptions = parseBool(s.Value("SloppyOptions"))
		m.LazyUnmount = parseBool(s.Value("LazyUnmount"))
		m.ForceUnmount = parseBool(s.Value("ForceUnmount"))
		m.ReadWriteOnly = parseBool(s.Value("ReadWriteOnly"))
		if mode, ok := parseOctal(s.Value("DirectoryMode")); ok {
			m.DirectoryMode = mode
		}
		if s.Has("TimeoutSec") {
			if d, err := ParseDuration(s.Value("TimeoutSec")); err == nil {
				m.TimeoutSec = d
			}
		}
	}
	if m.Where == "" {
		m.Where = MountPointFromName(name)
	}
	return m, nil
}

func (m *Mount) Kind() Kind { return KindMount }

// MountPointFromName converts a mount unit name to its mount point:
// '-' becomes '/', a literal dash is written as "\-", and the bare name
// "-.mount" means the root filesystem.
func MountPointFromName(name string) string {
	name = strings.TrimSuffix(name, ".mount")
	if name == "-" {
		return "/"
	}
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		switch {
		case name[i] == '\\' && i+1 < len(name) && name[i+1] == '-':
			b.WriteByte('-')
			i++
		case name[i] == '-':
			b.WriteByte('/')
		default:
			b.WriteByte(name[i])
		}
	}
	return b.String()
}

// NameFromMountPoint converts a mount point path to a mount unit name.
func NameFromMountPoint(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "-.mount"
	}
	return strings.ReplaceAll(path, "/", "-") + ".mount"
}
