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
	"time"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/activation"
	"github.com/Osso/sysd/pkg/unit"
)

// startTimer computes the next trigger and parks a sleeper that feeds the
// timer-fire channel. A Persistent= timer whose stamped trigger was missed
// while the machine was off fires immediately.
func (m *Manager) startTimer(t *unit.Timer, st *State) error {
	name := t.Name()
	st.setStarting()

	delay, ok := activation.NextTrigger(t, activation.TriggerContext{
		Now:      time.Now(),
		BootTime: m.bootTime,
		LastRun:  m.lastRun(name),
	})
	if ok {
		m.scheduleTimer(name, t.ServiceName(), delay)
	} else {
		log.L.Debugf("%s: no trigger configured, timer idle", name)
	}

	st.setRunning(0)
	log.L.Infof("%s active", name)
	return nil
}

func (m *Manager) lastRun(name string) time.Time {
	if m.stamps == nil {
		return time.Time{}
	}
	return m.stamps.LastRun(name)
}

// scheduleTimer spawns a cancellable sleeper for one trigger.
func (m *Manager) scheduleTimer(name, service string, delay time.Duration) {
	if prev, ok := m.timerStops[name]; ok {
		close(prev)
	}
	stop := make(chan struct{})
	m.timerStops[name] = stop
	log.L.Debugf("%s: firing in %s", name, delay)
	go activation.WatchTimer(name, service, delay, m.timerFires, stop)
}

func (m *Manager) stopTimer(t *unit.Timer, st *State) error {
	name := t.Name()
	st.setStopping()
	if stop, ok := m.timerStops[name]; ok {
		close(stop)
		delete(m.timerStops, name)
	}
	st.setStopped(0)
	log.L.Infof("stopped %s", name)
	return nil
}

// HandleTimerFire starts the timer's service and reschedules repeating
// timers.
func (m *Manager) HandleTimerFire(f activation.Fire) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.L.Infof("timer %s fired, activating %s", f.Timer, f.Service)

	if m.stamps != nil {
		if err := m.stamps.SetLastRun(f.Timer, time.Now()); err != nil {
			log.L.WithError(err).Debugf("%s: stamp not persisted", f.Timer)
		}
	}

	var startErr error
	if st, ok := m.states[f.Service]; !ok || !st.IsActive() {
		startErr = m.startLocked(f.Service)
	}

	if t, ok := m.units[f.Timer].(*unit.Timer); ok && t.Repeating() {
		if st, ok := m.states[f.Timer]; ok && st.IsActive() {
			delay, ok := activation.NextTrigger(t, activation.TriggerContext{
				Now:      time.Now(),
				BootTime: m.bootTime,
				LastRun:  time.Now(),
			})
			if ok {
				m.scheduleTimer(f.Timer, t.ServiceName(), delay)
			}
		}
	}
	return startErr
}
