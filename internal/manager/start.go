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
	"os"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/cgroups"
	"github.com/Osso/sysd/pkg/unit"
)

// Start brings a unit up: load if needed, evaluate conditions, dispatch by
// kind. Starting an already-active unit is a no-op.
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(Normalize(name))
}

func (m *Manager) startLocked(name string) error {
	u, err := m.loadLocked(name)
	if err != nil {
		return err
	}
	st := m.states[name]
	if st.IsActive() {
		return nil
	}

	if reason := m.cond.Evaluate(u.Common()); reason != "" {
		log.L.Infof("%s skipped: %s", name, reason)
		st.setSkipped(reason)
		return nil
	}

	switch v := u.(type) {
	case *unit.Service:
		return m.startService(v, st)
	case *unit.Target:
		st.setStarting()
		st.setRunning(0)
		log.L.Infof("reached target %s", name)
		return nil
	case *unit.Mount:
		return m.startMount(v, st)
	case *unit.Socket:
		return m.startSocket(v, st)
	case *unit.Timer:
		return m.startTimer(v, st)
	case *unit.Slice:
		return m.startSlice(v, st)
	}
	return fmt.Errorf("unit %q has unsupported kind: %w", name, errdefs.ErrInvalidArgument)
}

func (m *Manager) startService(svc *unit.Service, st *State) error {
	name := svc.Name()
	st.setStarting()
	st.recordStart(time.Now())

	id, err := m.resolveIdentity(svc)
	if err != nil {
		st.setFailed(err.Error())
		return err
	}

	timeout := svc.TimeoutStartSec
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	// ExecStartPre commands run to completion, in order. A non-tolerant
	// failure aborts the start.
	for _, raw := range svc.ExecStartPre {
		line, err := parseExecLine(raw, name, svc.Instance)
		if err != nil {
			st.setFailed(err.Error())
			return err
		}
		cmd, err := m.command(svc, line, id, nil)
		if err != nil {
			st.setFailed(err.Error())
			return err
		}
		if err := runBlocking(cmd, timeout); err != nil {
			if line.tolerant {
				log.L.WithError(err).Debugf("%s: tolerated ExecStartPre failure", name)
				continue
			}
			msg := fmt.Sprintf("ExecStartPre failed: %v", err)
			st.setFailed(msg)
			return fmt.Errorf("%s: %s", name, msg)
		}
	}

	if len(svc.ExecStart) == 0 {
		err := fmt.Errorf("%s has no ExecStart: %w", name, errdefs.ErrInvalidArgument)
		st.setFailed(err.Error())
		return err
	}
	if svc.Type == unit.TypeDbus && svc.BusName == "" {
		err := fmt.Errorf("%s: Type=dbus requires BusName=: %w", name, errdefs.ErrInvalidArgument)
		st.setFailed(err.Error())
		return err
	}

	if m.cg != nil {
		group, err := m.cg.Create(svc.Slice, name, cgroups.Limits{
			MemoryMax: svc.MemoryMax,
			CPUQuota:  svc.CPUQuota,
			TasksMax:  svc.TasksMax,
		})
		if err != nil {
			log.L.WithError(err).Warnf("%s: continuing without cgroup", name)
		} else {
			m.cgroupPaths[name] = group
		}
	}

	line, err := parseExecLine(svc.ExecStart[0], name, svc.Instance)
	if err != nil {
		st.setFailed(err.Error())
		return err
	}

	listeners := m.listenersFor(svc)
	cmd, err := m.command(svc, line, id, listeners)
	if err != nil {
		st.setFailed(err.Error())
		return err
	}
	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("spawn failed: %v", err)
		st.setFailed(msg)
		m.releaseIdentity(name)
		return fmt.Errorf("%s: %s", name, msg)
	}
	pid := cmd.Process.Pid
	m.processes[name] = pid
	if group, ok := m.cgroupPaths[name]; ok && m.cg != nil {
		if err := m.cg.AddProc(group, pid); err != nil {
			log.L.WithError(err).Debugf("%s: pid not moved into cgroup", name)
		}
	}
	// The reaper owns exit collection; release the Cmd bookkeeping.
	_ = cmd.Process.Release()

	switch svc.Type {
	case unit.TypeForking:
		// Stay activating until the parent exits; the reaper adopts
		// the pid-file pid.
		if svc.PIDFile != "" {
			m.pidFiles[name] = unit.Specifiers(svc.PIDFile, name, svc.Instance)
		}
		log.L.Infof("started %s (forking parent pid %d)", name, pid)
	case unit.TypeNotify:
		m.waitingReady[pid] = name
		log.L.Infof("started %s (pid %d), waiting for READY=1", name, pid)
	case unit.TypeDbus:
		m.waitingBusName[svc.BusName] = name
		log.L.Infof("started %s (pid %d), waiting for bus name %s", name, pid, svc.BusName)
	case unit.TypeOneshot:
		// Stays activating; the reaper settles the final state.
		log.L.Infof("started %s (oneshot pid %d)", name, pid)
	default: // simple, idle
		st.setRunning(pid)
		m.armWatchdog(name, svc)
		log.L.Infof("started %s (pid %d)", name, pid)
	}

	// ExecStartPost commands run after the main process is dispatched.
	for _, raw := range svc.ExecStartPost {
		line, err := parseExecLine(raw, name, svc.Instance)
		if err != nil {
			log.L.WithError(err).Warnf("%s: bad ExecStartPost", name)
			continue
		}
		cmd, err := m.command(svc, line, id, nil)
		if err != nil {
			continue
		}
		if err := runBlocking(cmd, timeout); err != nil && !line.tolerant {
			log.L.WithError(err).Warnf("%s: ExecStartPost failed", name)
		}
	}
	return nil
}

// listenersFor collects inherited socket files for a service: the Sockets=
// list when present, otherwise any socket unit that activates it.
func (m *Manager) listenersFor(svc *unit.Service) []*os.File {
	if len(svc.Sockets) > 0 {
		var files []*os.File
		for _, sock := range svc.Sockets {
			files = append(files, m.socketFiles[sock]...)
		}
		return files
	}
	for sockName, u := range m.units {
		if sock, ok := u.(*unit.Socket); ok && sock.ServiceName() == svc.Name() {
			if files := m.socketFiles[sockName]; len(files) > 0 {
				return files
			}
		}
	}
	return nil
}

// armWatchdog installs the watchdog deadline when the service configures
// one.
func (m *Manager) armWatchdog(name string, svc *unit.Service) {
	if svc.WatchdogSec > 0 {
		m.watchdog[name] = time.Now().Add(svc.WatchdogSec)
	}
}

// releaseIdentity returns a dynamic UID to the pool.
func (m *Manager) releaseIdentity(name string) {
	if uid, ok := m.dynamicUIDs[name]; ok {
		delete(m.dynamicUIDs, name)
		m.dynUsers.release(uid)
		log.L.Debugf("released dynamic uid %d for %s", uid, name)
	}
}
