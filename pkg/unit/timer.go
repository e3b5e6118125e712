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

package unit

import (
	"strings"
	"time"
)

// CalendarKind distinguishes the supported OnCalendar= forms.
type CalendarKind int

const (
	// CalendarNamed is a shortcut like "daily" or "weekly".
	CalendarNamed CalendarKind = iota
	// CalendarDayOfWeek is a weekday name, firing at midnight.
	CalendarDayOfWeek
	// CalendarTime is a bare HH:MM[:SS], firing today or tomorrow.
	CalendarTime
	// CalendarExpr is the catch-all expression form; only common
	// patterns are computed, the rest fall back to an hourly cadence.
	CalendarExpr
)

// CalendarSpec is one parsed OnCalendar= value.
type CalendarSpec struct {
	Kind CalendarKind
	// Named shortcut or weekday, lower-cased, for the first two kinds;
	// the raw expression for CalendarExpr.
	Text string
	// Time of day for CalendarTime.
	Hour, Minute, Second int
}

var calendarNames = map[string]bool{
	"minutely": true, "hourly": true, "daily": true, "weekly": true,
	"monthly": true, "yearly": true, "annually": true, "quarterly": true,
	"semiannually": true,
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// ParseCalendar classifies an OnCalendar= value.
func ParseCalendar(s string) CalendarSpec {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if calendarNames[lower] {
		return CalendarSpec{Kind: CalendarNamed, Text: lower}
	}
	if _, ok := weekdayNames[lower]; ok {
		return CalendarSpec{Kind: CalendarDayOfWeek, Text: lower}
	}
	if !strings.ContainsAny(s, "-*") && strings.Contains(s, ":") {
		var h, m, sec int
		parts := strings.Split(s, ":")
		if len(parts) >= 2 {
			hOK := parseClockField(parts[0], &h, 23)
			mOK := parseClockField(parts[1], &m, 59)
			secOK := true
			if len(parts) > 2 {
				secOK = parseClockField(parts[2], &sec, 59)
			}
			if hOK && mOK && secOK {
				return CalendarSpec{Kind: CalendarTime, Hour: h, Minute: m, Second: sec}
			}
		}
	}
	return CalendarSpec{Kind: CalendarExpr, Text: s}
}

func parseClockField(s string, out *int, max int) bool {
	n := 0
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	if n > max {
		return false
	}
	*out = n
	return true
}

// Weekday returns the weekday of a CalendarDayOfWeek spec.
func (c CalendarSpec) Weekday() (time.Weekday, bool) {
	d, ok := weekdayNames[c.Text]
	return d, ok
}

// Timer schedules activation of another unit.
type Timer struct {
	Base

	OnCalendar []CalendarSpec

	OnBootSec         time.Duration
	OnStartupSec      time.Duration
	OnActiveSec       time.Duration
	OnUnitActiveSec   time.Duration
	OnUnitInactiveSec time.Duration

	AccuracySec        time.Duration
	RandomizedDelaySec time.Duration
	Persistent         bool
	WakeSystem         bool

	// Unit overrides the activated unit; defaults to <name>.service.
	Unit string
}

// NewTimer projects a parsed file into a Timer.
func NewTimer(name string, f *File) (*Timer, error) {
	t := &Timer{Base: newBase(name), AccuracySec: time.Minute}
	t.parseCommon(f)
	t.parseInstall(f)

	s := f.Section("Timer")
	if s == nil {
		return t, nil
	}
	for _, v := range s.Values("OnCalendar") {
		t.OnCalendar = append(t.OnCalendar, ParseCalendar(v))
	}
	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"OnBootSec", &t.OnBootSec},
		{"OnStartupSec", &t.OnStartupSec},
		{"OnActiveSec", &t.OnActiveSec},
		{"OnUnitActiveSec", &t.OnUnitActiveSec},
		{"OnUnitInactiveSec", &t.OnUnitInactiveSec},
		{"AccuracySec", &t.AccuracySec},
		{"RandomizedDelaySec", &t.RandomizedDelaySec},
	}
	for _, d := range durs {
		if s.Has(d.key) {
			if v, err := ParseDuration(s.Value(d.key)); err == nil {
				*d.dst = v
			}
		}
	}
	t.Persistent = parseBool(s.Value("Persistent"))
	t.WakeSystem = parseBool(s.Value("WakeSystem"))
	t.Unit = s.Value("Unit")
	return t, nil
}

func (t *Timer) Kind() Kind { return KindTimer }

// ServiceName returns the unit this timer activates.
func (t *Timer) ServiceName() string {
	if t.Unit != "" {
		return t.Unit
	}
	return strings.TrimSuffix(t.UnitName, ".timer") + ".service"
}

// Monotonic reports whether any boot/startup/active offset is configured.
func (t *Timer) Monotonic() bool {
	return t.OnBootSec > 0 || t.OnStartupSec > 0 || t.OnActiveSec > 0 ||
		t.OnUnitActiveSec > 0 || t.OnUnitInactiveSec > 0
}

// Realtime reports whether any calendar trigger is configured.
func (t *Timer) Realtime() bool { return len(t.OnCalendar) > 0 }

// Repeating reports whether the timer reschedules itself after firing.
func (t *Timer) Repeating() bool {
	return t.OnUnitActiveSec > 0 || t.Realtime()
}
