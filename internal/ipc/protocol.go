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

// Package ipc is the control-socket protocol between sysdctl and the
// daemon: length-prefixed MessagePack frames over a unix stream socket,
// with the caller identified by peer credentials.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/vmihailenco/msgpack/v5"
)

// SocketPath returns the control socket location for system or user mode.
func SocketPath(user bool, uid int) string {
	if user {
		return fmt.Sprintf("/run/user/%d/sysd.sock", uid)
	}
	return "/run/sysd.sock"
}

// Request kinds.
const (
	KindList            = "list"
	KindStart           = "start"
	KindStop            = "stop"
	KindRestart         = "restart"
	KindEnable          = "enable"
	KindDisable         = "disable"
	KindIsEnabled       = "is-enabled"
	KindStatus          = "status"
	KindDeps            = "deps"
	KindGetBootTarget   = "get-boot-target"
	KindBoot            = "boot"
	KindReloadUnitFiles = "reload-unit-files"
	KindSyncUnits       = "sync-units"
	KindSwitchTarget    = "switch-target"
	KindPing            = "ping"
)

// Request is a control command from the CLI.
type Request struct {
	Kind string `msgpack:"kind"`
	Name string `msgpack:"name,omitempty"`
	// User asks for the user-mode listing.
	User bool `msgpack:"user,omitempty"`
	// UnitType filters List by kind.
	UnitType string `msgpack:"unit_type,omitempty"`
	DryRun   bool   `msgpack:"dry_run,omitempty"`
	Target   string `msgpack:"target,omitempty"`
}

// Response kinds.
const (
	RespOk         = "ok"
	RespError      = "error"
	RespPong       = "pong"
	RespUnits      = "units"
	RespStatus     = "status"
	RespDeps       = "deps"
	RespBootTarget = "boot-target"
	RespBootPlan   = "boot-plan"
	RespEnabled    = "enabled-state"
)

// UnitInfo is the wire form of one unit's status.
type UnitInfo struct {
	Name        string `msgpack:"name"`
	UnitType    string `msgpack:"unit_type"`
	Active      string `msgpack:"active"`
	Sub         string `msgpack:"sub"`
	Description string `msgpack:"description,omitempty"`
	MainPID     int    `msgpack:"main_pid,omitempty"`
	Note        string `msgpack:"note,omitempty"`
}

// Response is the daemon's answer.
type Response struct {
	Kind    string     `msgpack:"kind"`
	Message string     `msgpack:"message,omitempty"`
	Units   []UnitInfo `msgpack:"units,omitempty"`
	Status  *UnitInfo  `msgpack:"status,omitempty"`
	Names   []string   `msgpack:"names,omitempty"`
	Value   string     `msgpack:"value,omitempty"`
}

// Err wraps an error into an error response.
func Err(err error) Response {
	return Response{Kind: RespError, Message: err.Error()}
}

// maxFrame bounds a single message; unit listings stay far below this.
const maxFrame = 1 << 20

// WriteFrame sends one length-prefixed MessagePack message.
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrame {
		return fmt.Errorf("frame of %d bytes too large: %w", len(body), errdefs.ErrInvalidArgument)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame receives one length-prefixed MessagePack message into v.
func ReadFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return fmt.Errorf("frame of %d bytes too large: %w", n, errdefs.ErrInvalidArgument)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
