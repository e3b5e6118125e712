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
	"syscall"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

// KillUnit delivers a signal to a unit's processes. whom selects the main
// process ("main") or everything in the unit's cgroup ("all", the
// default).
func (m *Manager) KillUnit(name, whom string, signal int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = Normalize(name)
	if _, ok := m.units[name]; !ok {
		if _, ok := m.scopes[name]; !ok {
			return fmt.Errorf("unit %q: %w", name, errdefs.ErrNotFound)
		}
	}

	sig := syscall.Signal(signal)
	if whom == "main" {
		pid, ok := m.processes[name]
		if !ok {
			return fmt.Errorf("%s has no main process: %w", name, errdefs.ErrFailedPrecondition)
		}
		return unix.Kill(pid, sig)
	}

	group, ok := m.cgroupPaths[name]
	if info, isScope := m.scopes[name]; isScope {
		group, ok = info.cgroup, true
	}
	if ok && m.cg != nil {
		pids, err := m.cg.Procs(group)
		if err == nil && len(pids) > 0 {
			for _, pid := range pids {
				_ = unix.Kill(pid, sig)
			}
			return nil
		}
	}
	if pid, okPid := m.processes[name]; okPid {
		return unix.Kill(pid, sig)
	}
	return fmt.Errorf("%s has no processes: %w", name, errdefs.ErrFailedPrecondition)
}
