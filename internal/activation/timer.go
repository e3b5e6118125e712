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

package activation

import (
	"math/rand"
	"time"

	"github.com/containerd/log"

	"github.com/Osso/sysd/pkg/unit"
)

// Fire asks the supervisor to start Service because Timer elapsed.
type Fire struct {
	Timer   string
	Service string
}

// TriggerContext carries the clocks NextTrigger computes against.
type TriggerContext struct {
	Now      time.Time
	BootTime time.Time
	// LastRun is the persisted last trigger time; zero when unknown.
	LastRun time.Time
}

// NextTrigger returns the delay until the timer should next fire, or false
// when no trigger is pending: nothing is configured, or the only triggers are
// OnBootSec=/OnStartupSec= offsets that have already passed. The nearest
// pending trigger wins;
// RandomizedDelaySec= adds a pseudo-random slack on top.
func NextTrigger(t *unit.Timer, tc TriggerContext) (time.Duration, bool) {
	var (
		next  time.Duration
		found bool
	)
	consider := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if !found || d < next {
			next = d
			found = true
		}
	}

	elapsed := tc.Now.Sub(tc.BootTime)
	if t.OnBootSec > 0 && elapsed < t.OnBootSec {
		consider(t.OnBootSec - elapsed)
	}
	if t.OnStartupSec > 0 && elapsed < t.OnStartupSec {
		consider(t.OnStartupSec - elapsed)
	}
	if t.OnActiveSec > 0 {
		consider(t.OnActiveSec)
	}
	if t.OnUnitActiveSec > 0 {
		consider(t.OnUnitActiveSec)
	}
	if t.OnUnitInactiveSec > 0 {
		consider(t.OnUnitInactiveSec)
	}
	for _, spec := range t.OnCalendar {
		if d, ok := nextCalendar(spec, tc.Now); ok {
			consider(d)
		}
	}

	// A persistent timer that missed a calendar trigger while the system
	// was down fires immediately.
	if t.Persistent && !tc.LastRun.IsZero() && t.Realtime() {
		for _, spec := range t.OnCalendar {
			if d, ok := nextCalendar(spec, tc.LastRun); ok {
				if tc.LastRun.Add(d).Before(tc.Now) {
					consider(0)
				}
			}
		}
	}

	if found && t.RandomizedDelaySec > 0 {
		next += time.Duration(rand.Int63n(int64(t.RandomizedDelaySec)))
	}
	return next, found
}

// nextCalendar computes the delay from now to the next occurrence of a
// calendar spec. Unrecognized expressions fall back to one hour.
func nextCalendar(spec unit.CalendarSpec, now time.Time) (time.Duration, bool) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch spec.Kind {
	case unit.CalendarNamed:
		switch spec.Text {
		case "minutely":
			next := now.Truncate(time.Minute).Add(time.Minute)
			return next.Sub(now), true
		case "hourly":
			next := now.Truncate(time.Hour).Add(time.Hour)
			return next.Sub(now), true
		case "daily":
			return midnight.AddDate(0, 0, 1).Sub(now), true
		case "weekly":
			// Next Monday 00:00.
			days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return midnight.AddDate(0, 0, days).Sub(now), true
		case "monthly":
			first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
			return first.AddDate(0, 1, 0).Sub(now), true
		case "quarterly":
			month := ((int(now.Month())-1)/3)*3 + 1
			q := time.Date(now.Year(), time.Month(month), 1, 0, 0, 0, 0, now.Location())
			return q.AddDate(0, 3, 0).Sub(now), true
		case "semiannually":
			month := ((int(now.Month())-1)/6)*6 + 1
			h := time.Date(now.Year(), time.Month(month), 1, 0, 0, 0, 0, now.Location())
			return h.AddDate(0, 6, 0).Sub(now), true
		case "yearly", "annually":
			next := time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, now.Location())
			return next.Sub(now), true
		}
		return 0, false
	case unit.CalendarDayOfWeek:
		day, ok := spec.Weekday()
		if !ok {
			return 0, false
		}
		days := (int(day) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days).Sub(now), true
	case unit.CalendarTime:
		at := time.Date(now.Year(), now.Month(), now.Day(),
			spec.Hour, spec.Minute, spec.Second, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at.Sub(now), true
	default:
		// Common expression forms; anything else degrades to hourly.
		switch spec.Text {
		case "*-*-* *:00:00", "* *:00:00":
			next := now.Truncate(time.Hour).Add(time.Hour)
			return next.Sub(now), true
		case "*-*-* 00:00:00":
			return midnight.AddDate(0, 0, 1).Sub(now), true
		}
		log.L.Warnf("calendar expression %q not supported, using hourly fallback", spec.Text)
		return time.Hour, true
	}
}

// WatchTimer sleeps for delay and emits one fire event, unless stopped
// first.
func WatchTimer(timerName, serviceName string, delay time.Duration, ch chan<- Fire, stop <-chan struct{}) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-stop:
	case <-t.C:
		log.L.Debugf("%s elapsed, requesting %s", timerName, serviceName)
		select {
		case ch <- Fire{Timer: timerName, Service: serviceName}:
		case <-stop:
		}
	}
}
