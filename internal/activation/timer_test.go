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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

// A Wednesday, 10:30:00 UTC.
var wednesday = time.Date(2024, time.March, 13, 10, 30, 0, 0, time.UTC)

func timer(mutate func(*unit.Timer)) *unit.Timer {
	t := &unit.Timer{AccuracySec: time.Minute}
	t.UnitName = "test.timer"
	mutate(t)
	return t
}

func TestNextTriggerMonotonic(t *testing.T) {
	tm := timer(func(t *unit.Timer) { t.OnBootSec = 15 * time.Minute })

	// Five minutes after boot: ten minutes remain.
	d, ok := NextTrigger(tm, TriggerContext{
		Now:      wednesday,
		BootTime: wednesday.Add(-5 * time.Minute),
	})
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, d)

	// Past the offset: no trigger from OnBootSec alone.
	_, ok = NextTrigger(tm, TriggerContext{
		Now:      wednesday,
		BootTime: wednesday.Add(-20 * time.Minute),
	})
	assert.False(t, ok)
}

func TestNextTriggerUnitActive(t *testing.T) {
	tm := timer(func(t *unit.Timer) { t.OnUnitActiveSec = time.Hour })
	d, ok := NextTrigger(tm, TriggerContext{Now: wednesday, BootTime: wednesday})
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)
}

func TestNextTriggerNearestWins(t *testing.T) {
	tm := timer(func(t *unit.Timer) {
		t.OnBootSec = time.Hour
		t.OnActiveSec = 10 * time.Minute
	})
	d, ok := NextTrigger(tm, TriggerContext{Now: wednesday, BootTime: wednesday})
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, d)
}

func TestNextTriggerNothingConfigured(t *testing.T) {
	tm := timer(func(t *unit.Timer) {})
	_, ok := NextTrigger(tm, TriggerContext{Now: wednesday, BootTime: wednesday})
	assert.False(t, ok)
}

func TestNextCalendarNamed(t *testing.T) {
	for _, tc := range []struct {
		spec string
		want time.Duration
	}{
		{"minutely", time.Minute},
		{"hourly", 30 * time.Minute},
		{"daily", 13*time.Hour + 30*time.Minute},
		// Next Monday is five days from Wednesday.
		{"weekly", 5*24*time.Hour - 10*time.Hour - 30*time.Minute},
	} {
		d, ok := nextCalendar(unit.ParseCalendar(tc.spec), wednesday)
		require.True(t, ok, tc.spec)
		assert.Equal(t, tc.want, d, tc.spec)
	}
}

func TestNextCalendarDayOfWeek(t *testing.T) {
	// Saturday is three days from Wednesday; fires at midnight.
	d, ok := nextCalendar(unit.ParseCalendar("Sat"), wednesday)
	require.True(t, ok)
	assert.Equal(t, 3*24*time.Hour-10*time.Hour-30*time.Minute, d)

	// Same weekday means next week.
	d, ok = nextCalendar(unit.ParseCalendar("Wed"), wednesday)
	require.True(t, ok)
	assert.Equal(t, 7*24*time.Hour-10*time.Hour-30*time.Minute, d)
}

func TestNextCalendarTimeOfDay(t *testing.T) {
	// Later today.
	d, ok := nextCalendar(unit.ParseCalendar("11:00"), wednesday)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, d)

	// Already passed: tomorrow.
	d, ok = nextCalendar(unit.ParseCalendar("04:10"), wednesday)
	require.True(t, ok)
	assert.Equal(t, 17*time.Hour+40*time.Minute, d)
}

func TestNextCalendarExpr(t *testing.T) {
	d, ok := nextCalendar(unit.ParseCalendar("*-*-* *:00:00"), wednesday)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, d)

	// Unknown expressions fall back to an hour.
	d, ok = nextCalendar(unit.ParseCalendar("Mon..Fri 10:00/2"), wednesday)
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)
}

func TestPersistentMissedTriggerFiresNow(t *testing.T) {
	tm := timer(func(t *unit.Timer) {
		t.OnCalendar = []unit.CalendarSpec{unit.ParseCalendar("daily")}
		t.Persistent = true
	})
	// Last ran three days ago: the missed trigger fires immediately.
	d, ok := NextTrigger(tm, TriggerContext{
		Now:      wednesday,
		BootTime: wednesday,
		LastRun:  wednesday.AddDate(0, 0, -3),
	})
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}

func TestRandomizedDelayBounds(t *testing.T) {
	tm := timer(func(t *unit.Timer) {
		t.OnActiveSec = time.Minute
		t.RandomizedDelaySec = time.Minute
	})
	for i := 0; i < 20; i++ {
		d, ok := NextTrigger(tm, TriggerContext{Now: wednesday, BootTime: wednesday})
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.Less(t, d, 2*time.Minute)
	}
}

func TestWatchTimerFires(t *testing.T) {
	ch := make(chan Fire, 1)
	stop := make(chan struct{})
	go WatchTimer("t.timer", "t.service", time.Millisecond, ch, stop)

	select {
	case f := <-ch:
		assert.Equal(t, "t.timer", f.Timer)
		assert.Equal(t, "t.service", f.Service)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestWatchTimerStop(t *testing.T) {
	ch := make(chan Fire, 1)
	stop := make(chan struct{})
	go WatchTimer("t.timer", "t.service", time.Hour, ch, stop)
	close(stop)

	select {
	case <-ch:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stamps.db")
	s, err := OpenStamps(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.LastRun("x.timer").IsZero())

	now := time.Now()
	require.NoError(t, s.SetLastRun("x.timer", now))
	got := s.LastRun("x.timer")
	assert.Equal(t, now.UnixNano(), got.UnixNano())
}
