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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateLifecycle(t *testing.T) {
	st := NewState()
	assert.Equal(t, Inactive, st.Active)
	assert.Equal(t, SubDead, st.Sub)
	assert.False(t, st.IsActive())

	st.setStarting()
	assert.Equal(t, Activating, st.Active)
	assert.True(t, st.IsActive())

	st.setRunning(1234)
	assert.Equal(t, Active, st.Active)
	assert.Equal(t, SubRunning, st.Sub)
	assert.Equal(t, 1234, st.MainPID)

	st.setStopping()
	assert.Equal(t, Deactivating, st.Active)

	st.setStopped(0)
	assert.Equal(t, Inactive, st.Active)
	assert.Equal(t, SubExited, st.Sub)
	assert.Zero(t, st.MainPID)
}

func TestStateFailure(t *testing.T) {
	st := NewState()
	st.setStarting()
	st.setFailed("spawn failed")
	assert.Equal(t, Failed, st.Active)
	assert.Equal(t, SubFailed, st.Sub)
	assert.Equal(t, "spawn failed", st.Note)

	// A later start clears the note.
	st.setStarting()
	assert.Empty(t, st.Note)
}

func TestStateSkipped(t *testing.T) {
	st := NewState()
	st.setSkipped("ConditionPathExists=/nope failed")
	assert.Equal(t, Inactive, st.Active)
	assert.False(t, st.IsActive())
	assert.Contains(t, st.Note, "ConditionPathExists")
}

func TestStateAutoRestart(t *testing.T) {
	st := NewState()
	st.setStarting()
	st.setRunning(10)
	st.setAutoRestart(time.Millisecond)
	assert.Equal(t, Inactive, st.Active)
	assert.Equal(t, SubAutoRestart, st.Sub)

	assert.False(t, st.restartDue(st.restartAt.Add(-time.Hour)))
	assert.True(t, st.restartDue(st.restartAt))

	st.clearRestart()
	assert.Equal(t, SubDead, st.Sub)
}

func TestStateExitedRemains(t *testing.T) {
	st := NewState()
	st.setStarting()
	st.setExited()
	assert.Equal(t, Active, st.Active)
	assert.Equal(t, SubExited, st.Sub)
	assert.True(t, st.IsActive())
	assert.Zero(t, st.MainPID)
}

func TestRateLimiting(t *testing.T) {
	st := NewState()
	now := time.Now()

	// Three starts within the window: at the limit, not over it.
	for i := 0; i < 3; i++ {
		st.recordStart(now.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	assert.False(t, st.rateLimited(3, time.Second, now.Add(40*time.Millisecond)))

	// The fourth tips it over.
	st.recordStart(now.Add(40 * time.Millisecond))
	assert.True(t, st.rateLimited(3, time.Second, now.Add(50*time.Millisecond)))

	// Once the window elapses the limit clears.
	assert.False(t, st.rateLimited(3, time.Second, now.Add(2*time.Second)))

	// Zero burst disables limiting.
	assert.False(t, st.rateLimited(0, time.Second, now))
}
