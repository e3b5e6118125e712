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

// Package activation holds the background tasks that feed start requests
// back to the supervisor: socket watchers and timer sleepers. They talk to
// the supervisor only through bounded channels.
package activation

import (
	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// Event asks the supervisor to start Service because Socket became
// readable.
type Event struct {
	Socket  string
	Service string
}

// WatchSocket polls the listener fds until one becomes readable, emits one
// activation event, and exits: the activated service owns the sockets from
// then on. Closing the fds ends the watcher.
func WatchSocket(socketName, serviceName string, fds []int, ch chan<- Event) {
	if len(fds) == 0 {
		return
	}
	pollfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pollfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	for {
		n, err := unix.Poll(pollfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.L.WithError(err).Debugf("%s: poll ended", socketName)
			return
		}
		if n == 0 {
			continue
		}
		for _, p := range pollfds {
			if p.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				// Listener closed underneath us (socket stopped).
				return
			}
		}
		log.L.Infof("%s: connection pending, activating %s", socketName, serviceName)
		ch <- Event{Socket: socketName, Service: serviceName}
		return
	}
}
