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
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/pkg/unit"
)

// RunBackground drives the periodic supervisor work until the context ends:
// reaping, notify ingest, watchdog checks, D-Bus readiness, pending
// restarts, and activation events.
func (m *Manager) RunBackground(ctx context.Context) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.activations:
			if err := m.HandleActivation(ev); err != nil {
				log.L.WithError(err).Warnf("activation of %s failed", ev.Service)
			}
		case f := <-m.timerFires:
			if err := m.HandleTimerFire(f); err != nil {
				log.L.WithError(err).Warnf("timer activation of %s failed", f.Service)
			}
		case <-tick.C:
			m.ProcessNotify()
			m.Reap()
			m.ProcessWatchdog()
			m.ProcessDBusReady()
			m.ProcessRestarts()
			m.ReleaseEmptyScopes()
		}
	}
}

// Reap collects exited children without blocking and applies exit policy:
// forking adoption, oneshot settlement, restart scheduling and BindsTo
// propagation.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		if ws.Stopped() || ws.Continued() {
			continue
		}
		code := exitCode(ws)
		name, ok := m.findByPID(pid)
		if !ok {
			log.L.Debugf("reaped orphan pid %d (exit %d)", pid, code)
			continue
		}
		m.handleExit(name, pid, code)
	}
}

// ReportExit lets an external reaper (PID 1's wait loop) hand exits to the
// supervisor.
func (m *Manager) ReportExit(pid, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.findByPID(pid); ok {
		m.handleExit(name, pid, code)
	}
}

func (m *Manager) handleExit(name string, pid, code int) {
	svc, _ := m.service(name)
	st := m.states[name]
	if st == nil {
		return
	}

	// Type=forking: the initial process exiting cleanly is the readiness
	// signal; adopt the pid-file pid as main.
	if svc != nil && svc.Type == unit.TypeForking && st.Active == Activating && code == 0 {
		if m.adoptForked(name, svc, st) {
			return
		}
	}

	delete(m.processes, name)
	delete(m.waitingReady, pid)
	if svc != nil && svc.BusName != "" {
		delete(m.waitingBusName, svc.BusName)
	}
	delete(m.watchdog, name)

	if st.Active == Deactivating {
		// A Stop in progress owns the state transition.
		return
	}

	if svc == nil {
		st.setStopped(code)
		m.afterExit(name, st)
		return
	}

	if code == 0 && svc.Type == unit.TypeOneshot && svc.RemainAfterExit {
		st.setExited()
		st.resetStarts()
		log.L.Infof("%s exited (RemainAfterExit=yes)", name)
		m.afterExit(name, st)
		return
	}

	restart := false
	switch svc.Restart {
	case unit.RestartAlways:
		restart = true
	case unit.RestartOnFailure:
		restart = code != 0
	}
	for _, prevent := range svc.RestartPreventExitStatus {
		if code == prevent {
			restart = false
		}
	}

	if restart && st.rateLimited(svc.StartLimitBurst, svc.StartLimitInterval, time.Now()) {
		st.setFailed("start limit hit")
		log.L.Errorf("%s hit its start limit, not restarting (exit %d)", name, code)
	} else if restart {
		st.setAutoRestart(svc.RestartSec)
		log.L.Infof("%s exited (%d), restarting in %s", name, code, svc.RestartSec)
	} else if code == 0 {
		st.setStopped(code)
		st.resetStarts()
		log.L.Infof("%s exited cleanly", name)
	} else {
		st.setFailed("exit code " + strconv.Itoa(code))
		log.L.Warnf("%s failed with exit code %d", name, code)
	}

	m.afterExit(name, st)
}

// afterExit releases per-run resources and propagates BindsTo stops once a
// unit reaches a state without an auto-restart intent.
func (m *Manager) afterExit(name string, st *State) {
	if st.Sub != SubAutoRestart {
		m.releaseIdentity(name)
		m.dropStoredFDs(name)
		if group, ok := m.cgroupPaths[name]; ok {
			delete(m.cgroupPaths, name)
			if m.cg != nil {
				m.cg.Delete(group)
			}
		}
	}
	if !st.IsActive() {
		m.propagateBindsTo(name)
	}
}

func (m *Manager) adoptForked(name string, svc *unit.Service, st *State) bool {
	pidFile, ok := m.pidFiles[name]
	if !ok {
		delete(m.processes, name)
		st.setRunning(0)
		m.armWatchdog(name, svc)
		log.L.Warnf("%s forked without PIDFile, main pid unknown", name)
		return true
	}
	delete(m.pidFiles, name)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		log.L.WithError(err).Warnf("%s: cannot read PIDFile", name)
		return false
	}
	mainPid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		log.L.Warnf("%s: invalid pid in %s", name, pidFile)
		return false
	}
	m.processes[name] = mainPid
	st.setRunning(mainPid)
	m.armWatchdog(name, svc)
	log.L.Infof("%s forked, main pid %d", name, mainPid)
	return true
}

// propagateBindsTo queues a stop for every active unit bound to one that
// just left the active states.
func (m *Manager) propagateBindsTo(stopped string) {
	var bound []string
	for name, u := range m.units {
		for _, b := range u.Common().BindsTo {
			if b == stopped {
				if st, ok := m.states[name]; ok && st.IsActive() {
					bound = append(bound, name)
				}
			}
		}
	}
	for _, name := range bound {
		log.L.Infof("stopping %s (BindsTo=%s which stopped)", name, stopped)
		if err := m.stopLocked(name); err != nil {
			log.L.WithError(err).Warnf("BindsTo stop of %s failed", name)
		}
	}
}

// ProcessNotify drains pending notify datagrams and advances readiness,
// watchdog and fd-store state.
func (m *Manager) ProcessNotify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		select {
		case msg, ok := <-m.notifyCh:
			if !ok {
				return
			}
			m.handleNotify(msg)
		default:
			return
		}
	}
}

// notifyAccepted applies the service's NotifyAccess= policy to a sender.
func (m *Manager) notifyAccepted(name string, msg NotifyMessage) bool {
	svc, ok := m.service(name)
	if !ok {
		return false
	}
	switch svc.NotifyAccess {
	case unit.NotifyNone:
		return false
	case unit.NotifyMain:
		if m.processes[name] == msg.PID {
			return true
		}
		_, waiting := m.waitingReady[msg.PID]
		return waiting
	default: // exec, all: any pid mapped to the service
		return true
	}
}

func (m *Manager) handleNotify(msg NotifyMessage) {
	name, known := m.findByPID(msg.PID)
	if !known {
		if len(msg.FDs) > 0 {
			closeAll(msg.FDs)
		}
		log.L.Debugf("notify from unknown pid %d ignored", msg.PID)
		return
	}
	if !m.notifyAccepted(name, msg) {
		closeAll(msg.FDs)
		log.L.Debugf("notify from pid %d rejected by NotifyAccess", msg.PID)
		return
	}

	if msg.Ready() {
		if st := m.states[name]; st != nil && st.Active == Activating {
			delete(m.waitingReady, msg.PID)
			pid := m.processes[name]
			if mp := msg.MainPID(); mp > 0 {
				pid = mp
				m.processes[name] = mp
			}
			st.setRunning(pid)
			if svc, ok := m.service(name); ok {
				m.armWatchdog(name, svc)
			}
			log.L.Infof("%s signalled READY", name)
		}
	}
	if msg.Watchdog() {
		if svc, ok := m.service(name); ok && svc.WatchdogSec > 0 {
			m.watchdog[name] = time.Now().Add(svc.WatchdogSec)
			log.L.Tracef("%s watchdog ping", name)
		}
	}
	if msg.Stopping() {
		log.L.Debugf("%s announced STOPPING", name)
	}
	if s := msg.Status(); s != "" {
		if st := m.states[name]; st != nil {
			st.Note = s
		}
	}
	if msg.FDStore() && len(msg.FDs) > 0 {
		m.storeFDs(name, msg)
	} else if msg.FDStoreRemove() {
		m.removeStoredFDs(name, msg.FDName())
	} else if len(msg.FDs) > 0 {
		closeAll(msg.FDs)
	}
}

// storeFDs keeps descriptors for the service up to
// FileDescriptorStoreMax=; extras are closed.
func (m *Manager) storeFDs(name string, msg NotifyMessage) {
	svc, ok := m.service(name)
	max := uint(0)
	if ok {
		max = svc.FileDescriptorStoreMax
	}
	if max == 0 {
		log.L.Warnf("%s: FDSTORE without FileDescriptorStoreMax, closing %d fds", name, len(msg.FDs))
		closeAll(msg.FDs)
		return
	}
	fdName := msg.FDName()
	if fdName == "" {
		fdName = "stored"
	}
	store := m.fdStore[name]
	for _, fd := range msg.FDs {
		if uint(len(store)) >= max {
			log.L.Warnf("%s: fd store full (max %d)", name, max)
			unix.Close(fd)
			continue
		}
		store = append(store, storedFD{name: fdName, file: os.NewFile(uintptr(fd), fdName)})
	}
	m.fdStore[name] = store
}

func (m *Manager) removeStoredFDs(name, fdName string) {
	store := m.fdStore[name]
	kept := store[:0]
	for _, fd := range store {
		if fd.name == fdName {
			_ = fd.file.Close()
		} else {
			kept = append(kept, fd)
		}
	}
	m.fdStore[name] = kept
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// ProcessWatchdog terminates services that missed their watchdog deadline
// and hands them to the restart policy.
func (m *Manager) ProcessWatchdog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for name, deadline := range m.watchdog {
		if !now.After(deadline) {
			continue
		}
		delete(m.watchdog, name)
		log.L.Warnf("%s missed its watchdog deadline", name)

		pid := m.processes[name]
		if pid > 0 {
			_ = unix.Kill(pid, unix.SIGABRT)
			if _, exited := waitPid(pid, 100*time.Millisecond); !exited {
				_ = unix.Kill(pid, unix.SIGKILL)
				waitPid(pid, time.Second)
			}
			delete(m.processes, name)
		}

		st := m.states[name]
		st.setFailed("watchdog timeout")

		if svc, ok := m.service(name); ok {
			if svc.Restart == unit.RestartAlways || svc.Restart == unit.RestartOnFailure {
				if !st.rateLimited(svc.StartLimitBurst, svc.StartLimitInterval, now) {
					st.setAutoRestart(svc.RestartSec)
					log.L.Infof("%s restarting in %s after watchdog timeout", name, svc.RestartSec)
				}
			}
		}
		m.afterExit(name, st)
	}
}

// ProcessRestarts starts units whose auto-restart deadline has passed.
func (m *Manager) ProcessRestarts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due []string
	for name, st := range m.states {
		if st.restartDue(now) {
			due = append(due, name)
		}
	}
	for _, name := range due {
		m.states[name].clearRestart()
		log.L.Infof("restarting %s", name)
		if err := m.startLocked(name); err != nil {
			log.L.WithError(err).Errorf("restart of %s failed", name)
			m.states[name].setFailed("restart failed: " + err.Error())
		}
	}
}

// ProcessDBusReady asks the bus whether awaited names have owners and
// completes Type=dbus activations.
func (m *Manager) ProcessDBusReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bus == nil || len(m.waitingBusName) == 0 {
		return
	}
	for busName, name := range m.waitingBusName {
		owned, err := m.bus.NameHasOwner(busName)
		if err != nil {
			log.L.WithError(err).Debug("bus name probe failed")
			return
		}
		if !owned {
			continue
		}
		delete(m.waitingBusName, busName)
		if st := m.states[name]; st != nil && st.Active == Activating {
			st.setRunning(m.processes[name])
			if svc, ok := m.service(name); ok {
				m.armWatchdog(name, svc)
			}
			log.L.Infof("%s acquired bus name %s", name, busName)
		}
	}
}
