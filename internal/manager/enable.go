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

package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// EnabledState is the result of IsEnabled.
type EnabledState string

const (
	Enabled  EnabledState = "enabled"
	Disabled EnabledState = "disabled"
	// Static units carry no install section and cannot be enabled.
	Static EnabledState = "static"
)

// installDir is where enable writes its symlinks: the highest-precedence
// search path.
func (m *Manager) installDir() string {
	return m.loader.Paths()[0]
}

// Enable creates the [Install] symlinks for a unit and, recursively, its
// Also= units. Returns the created link paths.
func (m *Manager) Enable(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created []string
	queue := []string{Normalize(name)}
	seen := map[string]bool{}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true

		u, err := m.loadLocked(n)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) && n != Normalize(name) {
				log.L.Warnf("Also= unit %s not found, skipping", n)
				continue
			}
			return created, err
		}
		inst := u.Install()
		queue = append(queue, inst.Also...)
		if inst.Empty() {
			continue
		}
		target, err := m.loader.Find(n)
		if err != nil {
			return created, err
		}

		for _, wantedBy := range inst.WantedBy {
			link, err := m.link(wantedBy+".wants", n, target)
			if err != nil {
				return created, err
			}
			created = append(created, link)
		}
		for _, requiredBy := range inst.RequiredBy {
			link, err := m.link(requiredBy+".requires", n, target)
			if err != nil {
				return created, err
			}
			created = append(created, link)
		}
		for _, alias := range inst.Alias {
			link := filepath.Join(m.installDir(), alias)
			if err := replaceSymlink(target, link); err != nil {
				return created, err
			}
			created = append(created, link)
		}
	}

	if len(created) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoInstallSection)
	}
	return created, nil
}

func (m *Manager) link(dir, name, target string) (string, error) {
	full := filepath.Join(m.installDir(), dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	link := filepath.Join(full, name)
	if err := replaceSymlink(target, link); err != nil {
		return "", err
	}
	return link, nil
}

func replaceSymlink(target, link string) error {
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("replace %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s: %w", link, err)
	}
	return nil
}

// Disable removes the [Install] symlinks, ignoring missing ones. Returns
// the removed link paths.
func (m *Manager) Disable(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	queue := []string{Normalize(name)}
	seen := map[string]bool{}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true

		u, err := m.loadLocked(n)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) && n != Normalize(name) {
				continue
			}
			return removed, err
		}
		inst := u.Install()

		for _, wantedBy := range inst.WantedBy {
			if link, ok := removeLink(filepath.Join(m.installDir(), wantedBy+".wants", n)); ok {
				removed = append(removed, link)
			}
		}
		for _, requiredBy := range inst.RequiredBy {
			if link, ok := removeLink(filepath.Join(m.installDir(), requiredBy+".requires", n)); ok {
				removed = append(removed, link)
			}
		}
		for _, alias := range inst.Alias {
			if link, ok := removeLink(filepath.Join(m.installDir(), alias)); ok {
				removed = append(removed, link)
			}
		}
		queue = append(queue, inst.Also...)
	}
	return removed, nil
}

func removeLink(link string) (string, bool) {
	if _, err := os.Lstat(link); err != nil {
		return "", false
	}
	if err := os.Remove(link); err != nil {
		log.L.WithError(err).Warnf("cannot remove %s", link)
		return "", false
	}
	return link, true
}

// IsEnabled reports enabled when any install link exists, static when the
// unit has no install section, and disabled otherwise.
func (m *Manager) IsEnabled(name string) (EnabledState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := Normalize(name)
	u, err := m.loadLocked(n)
	if err != nil {
		return "", err
	}
	inst := u.Install()
	if inst.Empty() {
		return Static, nil
	}
	for _, wantedBy := range inst.WantedBy {
		if _, err := os.Lstat(filepath.Join(m.installDir(), wantedBy+".wants", n)); err == nil {
			return Enabled, nil
		}
	}
	for _, requiredBy := range inst.RequiredBy {
		if _, err := os.Lstat(filepath.Join(m.installDir(), requiredBy+".requires", n)); err == nil {
			return Enabled, nil
		}
	}
	for _, alias := range inst.Alias {
		if _, err := os.Lstat(filepath.Join(m.installDir(), alias)); err == nil {
			return Enabled, nil
		}
	}
	return Disabled, nil
}
