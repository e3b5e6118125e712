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
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/activation"
	"github.com/Osso/sysd/pkg/unit"
)

// startSocket creates every listener and spawns the watcher that turns
// readability into an activation event for the target service.
func (m *Manager) startSocket(sock *unit.Socket, st *State) error {
	name := sock.Name()
	st.setStarting()

	var files []*os.File
	for _, l := range sock.Listeners {
		if l.Kind == unit.ListenNetlink {
			// Netlink listeners are not implemented; the socket
			// still starts with its other listeners.
			log.L.Warnf("%s: skipping netlink listener %s", name, l.Address)
			continue
		}
		f, err := m.createListener(l, sock)
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			msg := fmt.Sprintf("listener %s failed: %v", l.Address, err)
			st.setFailed(msg)
			return fmt.Errorf("%s: %s", name, msg)
		}
		log.L.Debugf("%s: listening on %s (%s, fd %d)", name, l.Address, l.Kind, f.Fd())
		files = append(files, f)
	}
	m.socketFiles[name] = files

	for _, link := range sock.Symlinks {
		if len(sock.Listeners) > 0 {
			_ = os.Remove(link)
			if err := os.Symlink(sock.Listeners[0].Address, link); err != nil {
				log.L.WithError(err).Warnf("%s: symlink %s", name, link)
			}
		}
	}

	fds := make([]int, 0, len(files))
	for _, f := range files {
		fds = append(fds, int(f.Fd()))
	}
	go activation.WatchSocket(name, sock.ServiceName(), fds, m.activations)

	st.setRunning(0)
	log.L.Infof("%s listening", name)
	return nil
}

func (m *Manager) createListener(l unit.Listener, sock *unit.Socket) (*os.File, error) {
	switch l.Kind {
	case unit.ListenStream:
		if strings.HasPrefix(l.Address, "/") || strings.HasPrefix(l.Address, "@") {
			return unixListener(l.Address, unix.SOCK_STREAM, sock)
		}
		return tcpListener(l.Address)
	case unit.ListenDatagram:
		if strings.HasPrefix(l.Address, "/") || strings.HasPrefix(l.Address, "@") {
			return unixListener(l.Address, unix.SOCK_DGRAM, sock)
		}
		return udpListener(l.Address)
	case unit.ListenFIFO:
		return fifoListener(l.Address, sock)
	}
	return nil, fmt.Errorf("netlink listeners not implemented")
}

// unixListener binds a filesystem or abstract unix socket of the given
// type, applying mode, ownership and buffer options.
func unixListener(address string, sotype int, sock *unit.Socket) (*os.File, error) {
	abstract := strings.HasPrefix(address, "@")
	path := address
	if abstract {
		path = "\x00" + address[1:]
	} else {
		_ = os.Remove(address)
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return nil, err
		}
	}

	fd, err := unix.Socket(unix.AF_UNIX, sotype|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	applySocketOptions(fd, sock)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}
	if sotype == unix.SOCK_STREAM {
		if err := unix.Listen(fd, 128); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("listen %s: %w", address, err)
		}
	}
	if !abstract {
		mode := sock.SocketMode
		if mode == 0 {
			mode = 0o666
		}
		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			log.L.WithError(err).Warnf("chmod %s", address)
		}
		chownSocket(address, sock)
	}
	return os.NewFile(uintptr(fd), address), nil
}

func chownSocket(address string, sock *unit.Socket) {
	if sock.SocketUser == "" && sock.SocketGroup == "" {
		return
	}
	uid, gid := -1, -1
	if sock.SocketUser != "" {
		if u, g, err := lookupUser(sock.SocketUser); err == nil {
			uid, gid = int(u), int(g)
		}
	}
	if sock.SocketGroup != "" {
		if g, err := lookupGroup(sock.SocketGroup); err == nil {
			gid = int(g)
		}
	}
	if err := os.Chown(address, uid, gid); err != nil {
		log.L.WithError(err).Warnf("chown %s", address)
	}
}

func applySocketOptions(fd int, sock *unit.Socket) {
	if sock.ReceiveBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, int(sock.ReceiveBuffer))
	}
	if sock.SendBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, int(sock.SendBuffer))
	}
	if sock.PassCredentials {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}
	if sock.PassSecurity {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSSEC, 1)
	}
}

// tcpListener binds a TCP listener; a bare port listens on all interfaces.
func tcpListener(address string) (*os.File, error) {
	if !strings.Contains(address, ":") {
		address = ":" + address
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	f, err := ln.(*net.TCPListener).File()
	// The listener fd is duplicated into f; the original is closed so the
	// file is the single owner.
	_ = ln.Close()
	if err != nil {
		return nil, err
	}
	return f, nil
}

func udpListener(address string) (*os.File, error) {
	if !strings.Contains(address, ":") {
		address = ":" + address
	}
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, err
	}
	f, err := conn.(*net.UDPConn).File()
	_ = conn.Close()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// fifoListener creates a named pipe and opens it non-blocking read-write so
// the fd survives readers coming and going.
func fifoListener(path string, sock *unit.Socket) (*os.File, error) {
	_ = os.Remove(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	mode := sock.SocketMode
	if mode == 0 {
		mode = 0o644
	}
	if err := unix.Mkfifo(path, mode); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// stopSocket closes the listeners and, with RemoveOnStop=, clears the
// filesystem entries.
func (m *Manager) stopSocket(sock *unit.Socket, st *State) error {
	name := sock.Name()
	st.setStopping()

	for _, f := range m.socketFiles[name] {
		_ = f.Close()
	}
	delete(m.socketFiles, name)

	if sock.RemoveOnStop {
		for _, l := range sock.Listeners {
			if strings.HasPrefix(l.Address, "/") {
				_ = os.Remove(l.Address)
			}
		}
		for _, link := range sock.Symlinks {
			_ = os.Remove(link)
		}
	}
	st.setStopped(0)
	log.L.Infof("stopped %s", name)
	return nil
}

// HandleActivation starts the service a readable socket asks for.
func (m *Manager) HandleActivation(ev activation.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.L.Infof("socket activation: %s triggered by %s", ev.Service, ev.Socket)
	if st, ok := m.states[ev.Service]; ok && st.IsActive() {
		return nil
	}
	return m.startLocked(ev.Service)
}
