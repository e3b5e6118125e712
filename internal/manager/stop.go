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
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	sig "github.com/moby/sys/signal"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/pkg/unit"
)

// Stop takes a unit down. Stopping an inactive unit is an error. Stops
// propagate along BindsTo= once the unit settles.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = Normalize(name)
	if err := m.stopLocked(name); err != nil {
		return err
	}
	m.propagateBindsTo(name)
	return nil
}

func (m *Manager) stopLocked(name string) error {
	u, ok := m.units[name]
	if !ok {
		return fmt.Errorf("unit %q: %w", name, errdefs.ErrNotFound)
	}
	st := m.states[name]
	if !st.IsActive() {
		return fmt.Errorf("%s: %w", name, ErrNotActive)
	}

	switch v := u.(type) {
	case *unit.Service:
		return m.stopService(v, st)
	case *unit.Target:
		st.setStopping()
		st.setStopped(0)
		return nil
	case *unit.Mount:
		return m.stopMount(v, st)
	case *unit.Socket:
		return m.stopSocket(v, st)
	case *unit.Timer:
		return m.stopTimer(v, st)
	case *unit.Slice:
		return m.stopSlice(v, st)
	}
	return fmt.Errorf("unit %q has unsupported kind: %w", name, errdefs.ErrInvalidArgument)
}

// Restart stops (when active) then starts a unit.
func (m *Manager) Restart(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = Normalize(name)
	if st, ok := m.states[name]; ok && st.IsActive() {
		if err := m.stopLocked(name); err != nil {
			return err
		}
		m.propagateBindsTo(name)
	}
	return m.startLocked(name)
}

func (m *Manager) stopService(svc *unit.Service, st *State) error {
	name := svc.Name()
	st.setStopping()
	delete(m.watchdog, name)

	// ExecStop commands get a chance before signalling.
	for _, raw := range svc.ExecStop {
		line, err := parseExecLine(raw, name, svc.Instance)
		if err != nil {
			continue
		}
		cmd, err := m.command(svc, line, identity{}, nil)
		if err != nil {
			continue
		}
		if err := runBlocking(cmd, svc.StopTimeout()); err != nil && !line.tolerant {
			log.L.WithError(err).Warnf("%s: ExecStop failed", name)
		}
	}

	pid, hasPid := m.processes[name]
	if hasPid {
		m.signalService(svc, pid)

		code, exited := waitPid(pid, svc.StopTimeout())
		if !exited {
			log.L.Warnf("%s: stop timed out, sending SIGKILL", name)
			m.killService(svc, pid)
			code, _ = waitPid(pid, 5*time.Second)
		}
		st.setStopped(code)
		log.L.Infof("stopped %s (exit code %d)", name, code)
	} else {
		// No live process (oneshot remain-after-exit, adopted pid gone).
		st.setStopped(0)
		log.L.Infof("stopped %s", name)
	}

	delete(m.processes, name)
	delete(m.pidFiles, name)
	delete(m.waitingReady, pid)
	if svc.BusName != "" {
		delete(m.waitingBusName, svc.BusName)
	}
	m.dropStoredFDs(name)
	m.releaseIdentity(name)
	if group, ok := m.cgroupPaths[name]; ok {
		delete(m.cgroupPaths, name)
		if m.cg != nil {
			m.cg.Delete(group)
		}
	}
	return nil
}

// stopSignal resolves KillSignal=, defaulting to SIGTERM.
func stopSignal(svc *unit.Service) syscall.Signal {
	if svc.KillSignal == "" {
		return syscall.SIGTERM
	}
	s, err := sig.ParseSignal(svc.KillSignal)
	if err != nil {
		log.L.WithError(err).Warnf("%s: bad KillSignal, using SIGTERM", svc.Name())
		return syscall.SIGTERM
	}
	return s
}

// signalService delivers the stop signal according to KillMode=.
func (m *Manager) signalService(svc *unit.Service, mainPid int) {
	signal := stopSignal(svc)
	switch svc.KillMode {
	case unit.KillNone:
	case unit.KillProcess:
		_ = unix.Kill(mainPid, signal)
	case unit.KillMixed:
		_ = unix.Kill(mainPid, signal)
		for _, pid := range m.cgroupPids(svc.Name()) {
			if pid != mainPid {
				_ = unix.Kill(pid, unix.SIGKILL)
			}
		}
	default: // control-group
		pids := m.cgroupPids(svc.Name())
		if len(pids) == 0 {
			pids = []int{mainPid}
		}
		for _, pid := range pids {
			_ = unix.Kill(pid, signal)
		}
	}
}

// killService escalates to SIGKILL for everything still alive.
func (m *Manager) killService(svc *unit.Service, mainPid int) {
	if svc.KillMode == unit.KillNone {
		return
	}
	if group, ok := m.cgroupPaths[svc.Name()]; ok && m.cg != nil && svc.KillMode != unit.KillProcess {
		if err := m.cg.Kill(group); err == nil {
			return
		}
	}
	_ = unix.Kill(mainPid, unix.SIGKILL)
}

func (m *Manager) cgroupPids(name string) []int {
	group, ok := m.cgroupPaths[name]
	if !ok || m.cg == nil {
		return nil
	}
	pids, err := m.cg.Procs(group)
	if err != nil {
		return nil
	}
	return pids
}

// dropStoredFDs closes and forgets a service's stored descriptors.
func (m *Manager) dropStoredFDs(name string) {
	for _, fd := range m.fdStore[name] {
		_ = fd.file.Close()
	}
	delete(m.fdStore, name)
}
