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

package pid1

import (
	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// Exit is one reaped child.
type Exit struct {
	PID  int
	Code int
	// Signaled is set when the child was killed rather than exiting.
	Signaled bool
}

// ReapAll drains every exited child without blocking and returns what was
// collected. Orphans reparented to PID 1 are reaped alongside supervised
// children; the caller decides which pids it knows.
func ReapAll() []Exit {
	var exits []Exit
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 {
			if err != nil && err != unix.ECHILD {
				log.L.WithError(err).Debug("wait4")
			}
			return exits
		}
		if ws.Stopped() || ws.Continued() {
			continue
		}
		e := Exit{PID: pid}
		if ws.Exited() {
			e.Code = ws.ExitStatus()
		} else if ws.Signaled() {
			e.Code = 128 + int(ws.Signal())
			e.Signaled = true
		}
		log.L.Debugf("reaped pid %d (code %d)", e.PID, e.Code)
		exits = append(exits, e)
	}
}
