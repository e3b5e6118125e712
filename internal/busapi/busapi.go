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

// Package busapi exposes the manager on the system message bus under the
// compatibility name org.freedesktop.systemd1, enough for login managers:
// unit start/stop/kill, transient scopes with Abandon, and the readiness
// probe for Type=dbus services.
package busapi

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/containerd/log"
	dbus "github.com/godbus/dbus/v5"

	"github.com/Osso/sysd/internal/manager"
)

const (
	// BusName is the well-known name claimed on the system bus.
	BusName    = "org.freedesktop.systemd1"
	managerIfc = "org.freedesktop.systemd1.Manager"
	scopeIfc   = "org.freedesktop.systemd1.Scope"
	basePath   = dbus.ObjectPath("/org/freedesktop/systemd1")
)

// UnitObjectPath escapes a unit name into its bus object path: every
// non-alphanumeric byte becomes _<hex>.
func UnitObjectPath(name string) dbus.ObjectPath {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return basePath + "/unit/" + dbus.ObjectPath(b.String())
}

var jobCounter atomic.Uint32

func nextJobPath() dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/job/%d", basePath, jobCounter.Add(1)))
}

// Server owns the bus connection and the exported objects.
type Server struct {
	conn *dbus.Conn
	mgr  *manager.Manager
}

// Connect claims the well-known name on the system bus and exports the
// manager object. The returned server doubles as the manager's readiness
// probe.
func Connect(mgr *manager.Manager) (*Server, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%s already owned", BusName)
	}

	s := &Server{conn: conn, mgr: mgr}
	if err := conn.Export(&managerObject{s}, basePath, managerIfc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export manager object: %w", err)
	}
	log.L.Infof("bus facade available as %s", BusName)
	return s, nil
}

// NameHasOwner implements manager.BusProbe.
func (s *Server) NameHasOwner(name string) (bool, error) {
	var owned bool
	err := s.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&owned)
	return owned, err
}

// Close releases the bus connection.
func (s *Server) Close() error {
	return s.conn.Close()
}

// managerObject is the org.freedesktop.systemd1.Manager implementation.
type managerObject struct {
	s *Server
}

func (m *managerObject) StartUnit(name, mode string) (dbus.ObjectPath, *dbus.Error) {
	log.L.Infof("bus: StartUnit %s (mode %s)", name, mode)
	if err := m.s.mgr.Start(name); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return nextJobPath(), nil
}

func (m *managerObject) StopUnit(name, mode string) (dbus.ObjectPath, *dbus.Error) {
	log.L.Infof("bus: StopUnit %s (mode %s)", name, mode)
	if err := m.s.mgr.Stop(name); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return nextJobPath(), nil
}

func (m *managerObject) KillUnit(name, whom string, signal int32) *dbus.Error {
	log.L.Infof("bus: KillUnit %s whom=%s signal=%d", name, whom, signal)
	if err := m.s.mgr.KillUnit(name, whom, int(signal)); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// property is one (name, value) pair of a transient unit definition.
type property struct {
	Name  string
	Value dbus.Variant
}

type auxUnit struct {
	Name       string
	Properties []property
}

func (m *managerObject) StartTransientUnit(name, mode string, properties []property, aux []auxUnit) (dbus.ObjectPath, *dbus.Error) {
	log.L.Infof("bus: StartTransientUnit %s (mode %s)", name, mode)

	var (
		slice string
		desc  string
		pids  []int
	)
	for _, p := range properties {
		switch p.Name {
		case "Slice":
			_ = p.Value.Store(&slice)
		case "Description":
			_ = p.Value.Store(&desc)
		case "PIDs":
			var raw []uint32
			if err := p.Value.Store(&raw); err == nil {
				for _, pid := range raw {
					pids = append(pids, int(pid))
				}
			}
		default:
			log.L.Debugf("bus: ignoring transient property %s", p.Name)
		}
	}

	scope, err := m.s.mgr.StartTransientScope(name, slice, desc, pids)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	m.s.exportScope(scope.Name)
	return nextJobPath(), nil
}

func (m *managerObject) Subscribe() *dbus.Error {
	return nil
}

func (m *managerObject) Reload() *dbus.Error {
	if _, err := m.s.mgr.ReloadUnits(); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (m *managerObject) GetUnit(name string) (dbus.ObjectPath, *dbus.Error) {
	if _, ok := m.s.mgr.Get(name); !ok {
		return "", dbus.MakeFailedError(fmt.Errorf("unit %s not loaded", name))
	}
	return UnitObjectPath(name), nil
}

func (m *managerObject) LoadUnit(name string) (dbus.ObjectPath, *dbus.Error) {
	if err := m.s.mgr.Load(name); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return UnitObjectPath(name), nil
}

// scopeObject exports the Scope interface for one transient scope.
type scopeObject struct {
	s    *Server
	name string
}

// Abandon stops supervising the scope; the cgroup is reaped once empty.
func (o *scopeObject) Abandon() *dbus.Error {
	if err := o.s.mgr.AbandonScope(o.name); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Server) exportScope(name string) {
	path := UnitObjectPath(name)
	if err := s.conn.Export(&scopeObject{s: s, name: name}, path, scopeIfc); err != nil {
		log.L.WithError(err).Warnf("cannot export scope %s", name)
	}
}
