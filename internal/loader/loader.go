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

// Package loader locates unit files under the search paths, expands template
// instances, merges drop-in fragments and reads .wants/ link directories.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/Osso/sysd/pkg/unit"
)

// SystemPaths are the unit search paths for the system manager, highest
// precedence first.
var SystemPaths = []string{
	"/etc/sysd/system",
	"/usr/lib/sysd/system",
}

// UserPaths returns the search paths for a per-user manager.
func UserPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	cfg := os.Getenv("XDG_CONFIG_HOME")
	if cfg == "" {
		cfg = filepath.Join(home, ".config")
	}
	return []string{
		filepath.Join(cfg, "sysd", "user"),
		"/usr/lib/sysd/user",
	}
}

// Loader resolves unit names to parsed, typed units.
type Loader struct {
	paths []string
}

// New returns a loader over the given search paths; nil means SystemPaths.
func New(paths []string) *Loader {
	if len(paths) == 0 {
		paths = SystemPaths
	}
	return &Loader{paths: paths}
}

// Paths returns the loader's search paths.
func (l *Loader) Paths() []string {
	return append([]string(nil), l.paths...)
}

// Find returns the path of the file backing a unit name. For an instantiated
// template name whose own file does not exist, the template file is returned.
func (l *Loader) Find(name string) (string, error) {
	for _, dir := range l.paths {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if tpl := unit.TemplateOf(name); tpl != "" && tpl != name {
		for _, dir := range l.paths {
			p := filepath.Join(dir, tpl)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("unit %q: %w", name, errdefs.ErrNotFound)
}

// Load resolves, parses and projects a unit by name. Drop-ins are merged by
// appending and targets pick up their .wants/ directories.
func (l *Loader) Load(name string) (unit.Unit, error) {
	path, err := l.Find(name)
	if err != nil {
		return nil, err
	}
	f, err := unit.ParseFile(path)
	if err != nil {
		return nil, err
	}
	l.mergeDropins(name, f)

	u, err := unit.New(name, f)
	if err != nil {
		return nil, err
	}
	switch v := u.(type) {
	case *unit.Service:
		v.Path = path
		v.ModTime = modTime(path)
	case *unit.Target:
		v.Path = path
		v.ModTime = modTime(path)
		v.WantsDir = l.readWantsDirs(name)
	case *unit.Mount:
		v.Path = path
		v.ModTime = modTime(path)
	case *unit.Socket:
		v.Path = path
		v.ModTime = modTime(path)
	case *unit.Timer:
		v.Path = path
		v.ModTime = modTime(path)
	case *unit.Slice:
		v.Path = path
		v.ModTime = modTime(path)
	}
	return u, nil
}

func modTime(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}

// mergeDropins parses every <name>.d/*.conf across the search paths in
// sorted filename order and appends their values to the base file.
func (l *Loader) mergeDropins(name string, base *unit.File) {
	var confs []string
	for _, dir := range l.paths {
		entries, err := os.ReadDir(filepath.Join(dir, name+".d"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				confs = append(confs, filepath.Join(dir, name+".d", e.Name()))
			}
		}
	}
	sort.Slice(confs, func(i, j int) bool {
		return filepath.Base(confs[i]) < filepath.Base(confs[j])
	})
	for _, conf := range confs {
		dropin, err := unit.ParseFile(conf)
		if err != nil {
			log.L.WithError(err).Warnf("skipping drop-in %s", conf)
			continue
		}
		log.L.Debugf("merged drop-in %s into %s", conf, name)
		unit.Merge(base, dropin)
	}
}

// readWantsDirs enumerates unit-typed entries of every <name>.wants/
// directory across the search paths.
func (l *Loader) readWantsDirs(name string) []string {
	var (
		names []string
		seen  = map[string]bool{}
	)
	for _, dir := range l.paths {
		entries, err := os.ReadDir(filepath.Join(dir, name+".wants"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			n := e.Name()
			if _, err := unit.KindOf(n); err != nil {
				continue
			}
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// List enumerates every unit file name present under the search paths.
// Higher-precedence paths shadow lower ones.
func (l *Loader) List() []string {
	var (
		names []string
		seen  = map[string]bool{}
	)
	for _, dir := range l.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() {
				continue
			}
			if _, err := unit.KindOf(n); err != nil {
				continue
			}
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}
