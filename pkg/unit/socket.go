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

import "strings"

// ListenKind is the flavor of a socket listener.
type ListenKind string

const (
	ListenStream   ListenKind = "stream"
	ListenDatagram ListenKind = "datagram"
	ListenFIFO     ListenKind = "fifo"
	ListenNetlink  ListenKind = "netlink"
)

// Listener is a single address a socket unit listens on.
type Listener struct {
	Address string
	Kind    ListenKind
}

// Socket holds listeners whose readability activates a service.
type Socket struct {
	Base

	Listeners []Listener
	Accept    bool
	// Service overrides the activated unit; defaults to <name>.service.
	Service string

	SocketMode  uint32
	SocketUser  string
	SocketGroup string
	FDName      string

	RemoveOnStop    bool
	ReceiveBuffer   uint64
	SendBuffer      uint64
	PassCredentials bool
	PassSecurity    bool
	Symlinks        []string
}

// NewSocket projects a parsed file into a Socket.
func NewSocket(name string, f *File) (*Socket, error) {
	sk := &Socket{Base: newBase(name)}
	sk.parseCommon(f)
	sk.parseInstall(f)

	s := f.Section("Socket")
	if s == nil {
		return sk, nil
	}
	for _, addr := range s.Values("ListenStream") {
		sk.Listeners = append(sk.Listeners, Listener{Address: addr, Kind: ListenStream})
	}
	for _, addr := range s.Values("ListenDatagram") {
		sk.Listeners = append(sk.Listeners, Listener{Address: addr, Kind: ListenDatagram})
	}
	for _, addr := range s.Values("ListenFIFO") {
		sk.Listeners = append(sk.Listeners, Listener{Address: addr, Kind: ListenFIFO})
	}
	for _, addr := range s.Values("ListenNetlink") {
		sk.Listeners = append(sk.Listeners, Listener{Address: addr, Kind: ListenNetlink})
	}

	sk.Accept = parseBool(s.Value("Accept"))
	sk.Service = s.Value("Service")
	if mode, ok := parseOctal(s.Value("SocketMode")); ok {
		sk.SocketMode = mode
	}
	sk.SocketUser = s.Value("SocketUser")
	sk.SocketGroup = s.Value("SocketGroup")
	sk.FDName = s.Value("FileDescriptorName")
	sk.RemoveOnStop = parseBool(s.Value("RemoveOnStop"))
	if s.Has("ReceiveBuffer") {
		if n, err := ParseSize(s.Value("ReceiveBuffer")); err == nil {
			sk.ReceiveBuffer = n
		}
	}
	if s.Has("SendBuffer") {
		if n, err := ParseSize(s.Value("SendBuffer")); err == nil {
			sk.SendBuffer = n
		}
	}
	sk.PassCredentials = parseBool(s.Value("PassCredentials"))
	sk.PassSecurity = parseBool(s.Value("PassSecurity"))
	sk.Symlinks = fieldsOf(s.Values("Symlinks"))
	return sk, nil
}

func (s *Socket) Kind() Kind { return KindSocket }

// ServiceName returns the unit activated when a listener becomes readable.
func (s *Socket) ServiceName() string {
	if s.Service != "" {
		return s.Service
	}
	return strings.TrimSuffix(s.UnitName, ".socket") + ".service"
}
