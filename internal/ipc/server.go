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

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// Caller identifies the requesting process via socket peer credentials.
type Caller struct {
	PID int
	UID int
	GID int
}

// Handler services one request.
type Handler func(Request, Caller) Response

// Server accepts control connections.
type Server struct {
	listener net.Listener
	path     string
}

// Listen binds the control socket, replacing a stale one.
func Listen(path string) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind control socket: %w", err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		l.Close()
		return nil, err
	}
	return &Server{listener: l, path: path}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until the context ends, one goroutine per
// connection.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.L.WithError(err).Warn("accept on control socket")
			continue
		}
		go s.handle(conn, handler)
	}
}

func (s *Server) handle(conn net.Conn, handler Handler) {
	defer conn.Close()

	caller, err := peerCaller(conn)
	if err != nil {
		log.L.WithError(err).Debug("peer credentials unavailable")
	}

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		log.L.WithError(err).Debug("bad control request")
		_ = WriteFrame(conn, Response{Kind: RespError, Message: "invalid request"})
		return
	}
	log.L.Debugf("control request %s from uid=%d pid=%d", req.Kind, caller.UID, caller.PID)

	resp := handler(req, caller)
	if err := WriteFrame(conn, resp); err != nil {
		log.L.WithError(err).Debug("control response not delivered")
	}
}

// peerCaller reads SO_PEERCRED off the connection.
func peerCaller(conn net.Conn) (Caller, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Caller{}, fmt.Errorf("not a unix connection")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Caller{}, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Caller{}, err
	}
	if credErr != nil {
		return Caller{}, credErr
	}
	return Caller{PID: int(cred.Pid), UID: int(cred.Uid), GID: int(cred.Gid)}, nil
}

// Close releases the listener and socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}
