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
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/cgroups"
)

// Scope describes a transient scope for callers (the bus facade).
type Scope struct {
	Name        string
	Slice       string
	Description string
	CgroupPath  string
	Abandoned   bool
}

// StartTransientScope creates a scope unit for externally-created
// processes: a cgroup under the given slice with the pids moved in.
func (m *Manager) StartTransientScope(name, slice, description string, pids []int) (Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scopes[name]; ok {
		return Scope{}, fmt.Errorf("scope %q: %w", name, errdefs.ErrAlreadyExists)
	}
	if slice == "" {
		slice = "user.slice"
	}

	group := cgroups.UnitGroup(slice, name)
	if m.cg != nil {
		created, err := m.cg.Create(slice, name, cgroups.Limits{})
		if err != nil {
			return Scope{}, err
		}
		group = created
		for _, pid := range pids {
			if err := m.cg.AddProc(group, pid); err != nil {
				log.L.WithError(err).Warnf("scope %s: pid %d not moved", name, pid)
			}
		}
	}

	info := &scopeInfo{cgroup: group, slice: slice, desc: description}
	m.scopes[name] = info
	st := NewState()
	st.setStarting()
	st.setRunning(0)
	m.states[name] = st

	log.L.Infof("created scope %s in %s (%d pids)", name, slice, len(pids))
	return Scope{Name: name, Slice: slice, Description: description, CgroupPath: group}, nil
}

// AbandonScope stops supervising a scope. The cgroup stays behind until
// ReleaseEmptyScopes finds it empty and removes it.
func (m *Manager) AbandonScope(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.scopes[name]
	if !ok {
		return fmt.Errorf("scope %q: %w", name, errdefs.ErrNotFound)
	}
	if info.abandoned {
		return nil
	}
	info.abandoned = true
	if st, ok := m.states[name]; ok {
		st.setStopped(0)
	}
	log.L.Infof("abandoned scope %s", name)
	return nil
}

// Scopes lists the transient scopes.
func (m *Manager) Scopes() []Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Scope, 0, len(m.scopes))
	for name, info := range m.scopes {
		out = append(out, Scope{
			Name:        name,
			Slice:       info.slice,
			Description: info.desc,
			CgroupPath:  info.cgroup,
			Abandoned:   info.abandoned,
		})
	}
	return out
}

// ReleaseEmptyScopes removes abandoned scopes whose cgroups have emptied.
func (m *Manager) ReleaseEmptyScopes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, info := range m.scopes {
		if !info.abandoned || m.cg == nil {
			continue
		}
		if !m.cg.Populated(info.cgroup) {
			m.cg.Delete(info.cgroup)
			delete(m.scopes, name)
			delete(m.states, name)
			log.L.Debugf("released empty scope %s", name)
		}
	}
}
