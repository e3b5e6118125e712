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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// NotifyMessage is one datagram on the notify socket: newline-separated
// KEY=value pairs plus the sender credentials and any passed descriptors.
type NotifyMessage struct {
	PID    int
	Fields map[string]string
	FDs    []int
}

func (n NotifyMessage) is(key string) bool  { return n.Fields[key] == "1" }
func (n NotifyMessage) Ready() bool         { return n.is("READY") }
func (n NotifyMessage) Stopping() bool      { return n.is("STOPPING") }
func (n NotifyMessage) Watchdog() bool      { return n.is("WATCHDOG") }
func (n NotifyMessage) FDStore() bool       { return n.is("FDSTORE") }
func (n NotifyMessage) FDStoreRemove() bool { return n.is("FDSTOREREMOVE") }
func (n NotifyMessage) Status() string      { return n.Fields["STATUS"] }
func (n NotifyMessage) FDName() string      { return n.Fields["FDNAME"] }

// MainPID returns the MAINPID= field, or 0.
func (n NotifyMessage) MainPID() int {
	pid, _ := strconv.Atoi(n.Fields["MAINPID"])
	return pid
}

func parseNotifyMessage(data string, pid int, fds []int) NotifyMessage {
	fields := map[string]string{}
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			fields[k] = v
		}
	}
	return NotifyMessage{PID: pid, Fields: fields, FDs: fds}
}

type notifyListener struct {
	fd   int
	path string
}

// notifyPath is the datagram socket services are told about through
// NOTIFY_SOCKET.
func (m *Manager) notifyPath() string {
	return filepath.Join(m.RuntimeDir(), "notify")
}

// InitNotifySocket binds the notify socket (mode 0777, credentials
// enabled) and starts the receiver feeding the returned channel.
func (m *Manager) InitNotifySocket() error {
	path := m.notifyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("notify socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o777); err != nil {
		unix.Close(fd)
		return err
	}
	// Sender pids arrive as SCM_CREDENTIALS ancillary data.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("SO_PASSCRED: %w", err)
	}

	ch := make(chan NotifyMessage, 64)
	l := &notifyListener{fd: fd, path: path}
	go l.receive(ch)

	m.mu.Lock()
	m.notify = l
	m.notifyCh = ch
	m.mu.Unlock()
	return nil
}

func (l *notifyListener) receive(ch chan<- NotifyMessage) {
	defer close(ch)
	buf := make([]byte, 4096)
	oob := make([]byte, 1024)
	for {
		n, oobn, _, _, err := unix.Recvmsg(l.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.L.WithError(err).Debug("notify socket closed")
			return
		}
		pid, fds := parseAncillary(oob[:oobn])
		msg := parseNotifyMessage(string(buf[:n]), pid, fds)
		ch <- msg
	}
}

// parseAncillary extracts the sender pid and any passed descriptors from
// the control messages.
func parseAncillary(oob []byte) (int, []int) {
	var (
		pid int
		fds []int
	)
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, nil
	}
	for _, msg := range msgs {
		if cred, err := unix.ParseUnixCredentials(&msg); err == nil {
			pid = int(cred.Pid)
			continue
		}
		if rights, err := unix.ParseUnixRights(&msg); err == nil {
			fds = append(fds, rights...)
		}
	}
	return pid, fds
}

func (l *notifyListener) close() {
	unix.Close(l.fd)
	_ = os.Remove(l.path)
}

// CloseNotifySocket tears down the notify receiver.
func (m *Manager) CloseNotifySocket() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notify != nil {
		m.notify.close()
		m.notify = nil
	}
}
