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
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/depgraph"
	"github.com/Osso/sysd/internal/loader"
	"github.com/Osso/sysd/pkg/unit"
)

// DefaultTargetName is booted when no default.target link or configuration
// overrides it.
const DefaultTargetName = "multi-user.target"

// DefaultTarget resolves default.target: a symlink in the search paths
// names the real target; otherwise the compiled default applies.
func (m *Manager) DefaultTarget() string {
	for _, dir := range m.loader.Paths() {
		link := filepath.Join(dir, "default.target")
		if dest, err := os.Readlink(link); err == nil {
			return filepath.Base(dest)
		}
		if _, err := os.Stat(link); err == nil {
			return "default.target"
		}
	}
	return DefaultTargetName
}

// loadClosure loads a unit and, transitively, everything it references,
// tolerating missing Wants= units.
func (m *Manager) loadClosure(name string) error {
	queue := []string{name}
	seen := map[string]bool{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true

		u, ok := m.units[n]
		if !ok {
			var err error
			u, err = m.loadLocked(n)
			if err != nil {
				if n == name {
					return err
				}
				if !errors.Is(err, errdefs.ErrNotFound) {
					log.L.WithError(err).Warnf("cannot load %s", n)
				}
				continue
			}
		}
		c := u.Common()
		queue = append(queue, c.After...)
		queue = append(queue, c.Requires...)
		queue = append(queue, c.Wants...)
		queue = append(queue, c.BindsTo...)
		if t, ok := u.(*unit.Target); ok {
			queue = append(queue, t.WantsDir...)
		}
	}
	return nil
}

// graphLocked builds the ordering graph over every loaded unit.
func (m *Manager) graphLocked() *depgraph.Graph {
	g := depgraph.New()
	for _, u := range m.units {
		g.Add(u)
	}
	return g
}

// BootPlan loads the closure of target and returns the start order,
// restricted to units that are actually loaded.
func (m *Manager) BootPlan(target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootPlanLocked(target)
}

func (m *Manager) bootPlanLocked(target string) ([]string, error) {
	if err := m.loadClosure(target); err != nil {
		return nil, err
	}
	order, err := m.graphLocked().StartOrderFor(target)
	if err != nil {
		return nil, err
	}
	plan := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := m.units[name]; ok {
			plan = append(plan, name)
		}
	}
	return plan, nil
}

// StartWithDeps starts every unit the target depends on, in order. Within
// the walk, unit N+1 is not dispatched before unit N reached at least
// activating. Failures are logged and do not stop the boot. Returns the
// names started.
func (m *Manager) StartWithDeps(target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = Normalize(target)
	plan, err := m.bootPlanLocked(target)
	if err != nil {
		return nil, err
	}
	var started []string
	for _, name := range plan {
		if st, ok := m.states[name]; ok && st.IsActive() {
			continue
		}
		if err := m.startLocked(name); err != nil {
			log.L.WithError(err).Warnf("boot: %s failed to start", name)
			continue
		}
		started = append(started, name)
	}
	return started, nil
}

// SwitchTarget starts the new target's closure and stops active units no
// longer reachable from it. Returns the stopped units.
func (m *Manager) SwitchTarget(target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = Normalize(target)
	plan, err := m.bootPlanLocked(target)
	if err != nil {
		return nil, err
	}
	needed := map[string]bool{}
	for _, name := range plan {
		needed[name] = true
	}

	var stopped []string
	for name, st := range m.states {
		if !st.IsActive() || needed[name] {
			continue
		}
		if _, isScope := m.scopes[name]; isScope {
			continue
		}
		if err := m.stopLocked(name); err != nil {
			log.L.WithError(err).Warnf("switch-target: cannot stop %s", name)
			continue
		}
		m.propagateBindsTo(name)
		stopped = append(stopped, name)
	}

	for _, name := range plan {
		if st, ok := m.states[name]; ok && st.IsActive() {
			continue
		}
		if err := m.startLocked(name); err != nil {
			log.L.WithError(err).Warnf("switch-target: %s failed to start", name)
		}
	}
	return stopped, nil
}

// ReloadUnits re-parses every loaded file-backed unit from disk. Definitions
// are replaced; runtime state is kept. Units whose files vanished are
// dropped when inactive. Returns the number of reloaded units.
func (m *Manager) ReloadUnits() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for name, old := range m.units {
		if unitPath(old) == "" {
			// Generated units have no backing file.
			continue
		}
		fresh, err := m.loader.Load(name)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				if st := m.states[name]; st != nil && !st.IsActive() {
					delete(m.units, name)
					delete(m.states, name)
					log.L.Infof("dropped removed unit %s", name)
				}
				continue
			}
			log.L.WithError(err).Warnf("reload of %s failed", name)
			continue
		}
		m.units[name] = fresh
		count++
	}
	return count, nil
}

// SyncUnits reloads definitions and restarts active services whose files
// changed since they were loaded. Returns the restarted names.
func (m *Manager) SyncUnits() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var restarted []string
	for name, old := range m.units {
		path := unitPath(old)
		if path == "" {
			continue
		}
		st := m.states[name]
		if st == nil || !st.IsActive() {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil || fi.ModTime().UnixNano() == unitModTime(old) {
			continue
		}
		fresh, err := m.loader.Load(name)
		if err != nil {
			log.L.WithError(err).Warnf("sync: reload of %s failed", name)
			continue
		}
		m.units[name] = fresh
		if err := m.stopLocked(name); err != nil {
			log.L.WithError(err).Warnf("sync: cannot stop %s", name)
			continue
		}
		m.propagateBindsTo(name)
		if err := m.startLocked(name); err != nil {
			log.L.WithError(err).Warnf("sync: cannot start %s", name)
			continue
		}
		restarted = append(restarted, name)
	}
	return restarted, nil
}

func unitPath(u unit.Unit) string {
	switch v := u.(type) {
	case *unit.Service:
		return v.Path
	case *unit.Target:
		return v.Path
	case *unit.Mount:
		return v.Path
	case *unit.Socket:
		return v.Path
	case *unit.Timer:
		return v.Path
	case *unit.Slice:
		return v.Path
	}
	return ""
}

func unitModTime(u unit.Unit) int64 {
	switch v := u.(type) {
	case *unit.Service:
		return v.ModTime
	case *unit.Target:
		return v.ModTime
	case *unit.Mount:
		return v.ModTime
	case *unit.Socket:
		return v.ModTime
	case *unit.Timer:
		return v.ModTime
	case *unit.Slice:
		return v.ModTime
	}
	return 0
}

// StopAll stops every active unit, deepest dependents first, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.graphLocked().Toposort()
	if err != nil {
		var cycle *depgraph.CycleError
		if errors.As(err, &cycle) {
			log.L.Warnf("stop order degraded: %v", err)
		}
		order = nil
		for name := range m.units {
			order = append(order, name)
		}
	}
	// Reverse start order: dependents stop before their dependencies.
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		st, ok := m.states[name]
		if !ok || !st.IsActive() {
			continue
		}
		log.L.Infof("stopping %s for shutdown", name)
		if err := m.stopLocked(name); err != nil {
			log.L.WithError(err).Warnf("shutdown: cannot stop %s", name)
		}
	}
}

// Loader exposes the loader for tooling.
func (m *Manager) Loader() *loader.Loader {
	return m.loader
}
