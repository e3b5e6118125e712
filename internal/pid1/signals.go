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
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Request is a control action delivered by signal.
type Request int

const (
	// ReapChildren wakes the reaper (SIGCHLD).
	ReapChildren Request = iota
	// Poweroff shuts the system down (SIGTERM).
	Poweroff
	// Reboot restarts the system (SIGINT, as from ctrl-alt-del).
	Reboot
	// Reload re-reads unit files (SIGHUP).
	Reload
	// DumpState logs the unit table (SIGUSR1).
	DumpState
)

// Signals installs the PID-1 signal handlers and forwards requests on the
// returned channel until the process exits.
func Signals() <-chan Request {
	sigs := make(chan os.Signal, 32)
	signal.Notify(sigs, unix.SIGCHLD, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGUSR1)

	out := make(chan Request, 32)
	go func() {
		for sig := range sigs {
			var req Request
			switch sig {
			case unix.SIGCHLD:
				req = ReapChildren
			case unix.SIGTERM:
				req = Poweroff
			case unix.SIGINT:
				req = Reboot
			case unix.SIGHUP:
				req = Reload
			case unix.SIGUSR1:
				req = DumpState
			default:
				continue
			}
			select {
			case out <- req:
			default:
				// A full queue means the consumer is gone; signals
				// are level-style requests, dropping is safe.
			}
		}
	}()
	return out
}
