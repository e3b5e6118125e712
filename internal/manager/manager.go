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

// Package manager is the supervisor: it owns the unit and state tables and
// drives units through their lifecycle. All mutation happens under one lock;
// background work reaches the tables through bounded channels drained by the
// Process* methods.
package manager

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/activation"
	"github.com/Osso/sysd/internal/cgroups"
	"github.com/Osso/sysd/internal/condition"
	"github.com/Osso/sysd/internal/loader"
	"github.com/Osso/sysd/pkg/unit"
)

// BusProbe answers whether a well-known bus name currently has an owner.
// The daemon wires in a live D-Bus connection once one is available.
type BusProbe interface {
	NameHasOwner(name string) (bool, error)
}

type storedFD struct {
	name string
	file *os.File
}

type scopeInfo struct {
	cgroup    string
	slice     string
	desc      string
	abandoned bool
}

// Manager supervises units.
type Manager struct {
	mu sync.Mutex

	user   bool
	loader *loader.Loader
	cond   *condition.Evaluator
	cg     *cgroups.Manager

	units  map[string]unit.Unit
	states map[string]*State

	// processes maps unit name to the main (or, for Type=forking, the
	// initial) pid.
	processes   map[string]int
	pidFiles    map[string]string
	cgroupPaths map[string]string
	socketFiles map[string][]*os.File
	fdStore     map[string][]storedFD
	watchdog    map[string]time.Time
	// waitingReady maps a spawned pid to the Type=notify service waiting
	// for READY=1.
	waitingReady map[int]string
	// waitingBusName maps a BusName= to the Type=dbus service waiting for
	// its acquisition.
	waitingBusName map[string]string
	dynamicUIDs    map[string]uint32
	scopes         map[string]*scopeInfo

	dynUsers *dynamicUIDPool

	activations chan activation.Event
	timerFires  chan activation.Fire
	timerStops  map[string]chan struct{}
	stamps      *activation.Stamps

	notify   *notifyListener
	notifyCh <-chan NotifyMessage

	bus BusProbe

	bootTime time.Time
	// selfExe is re-executed as the sandbox shim.
	selfExe string
}

// New returns a system-mode manager.
func New() *Manager {
	return newManager(loader.New(nil), false)
}

// NewUser returns a per-user manager using the XDG search paths.
func NewUser() *Manager {
	return newManager(loader.New(loader.UserPaths()), true)
}

// NewWithLoader returns a manager over a custom loader, for tests and
// tooling.
func NewWithLoader(l *loader.Loader) *Manager {
	return newManager(l, false)
}

func newManager(l *loader.Loader, user bool) *Manager {
	selfExe, err := os.Executable()
	if err != nil {
		selfExe = "/proc/self/exe"
	}
	m := &Manager{
		user:           user,
		loader:         l,
		cond:           condition.NewEvaluator(),
		units:          map[string]unit.Unit{},
		states:         map[string]*State{},
		processes:      map[string]int{},
		pidFiles:       map[string]string{},
		cgroupPaths:    map[string]string{},
		socketFiles:    map[string][]*os.File{},
		fdStore:        map[string][]storedFD{},
		watchdog:       map[string]time.Time{},
		waitingReady:   map[int]string{},
		waitingBusName: map[string]string{},
		dynamicUIDs:    map[string]uint32{},
		scopes:         map[string]*scopeInfo{},
		dynUsers:       newDynamicUIDPool(),
		activations:    make(chan activation.Event, 64),
		timerFires:     make(chan activation.Fire, 64),
		timerStops:     map[string]chan struct{}{},
		bootTime:       time.Now(),
		selfExe:        selfExe,
	}
	if cg, err := cgroups.New(); err == nil {
		m.cg = cg
	} else {
		log.L.WithError(err).Warn("cgroup2 unavailable, resource control disabled")
	}
	return m
}

// SetBusProbe wires in the D-Bus readiness probe once a connection exists.
func (m *Manager) SetBusProbe(p BusProbe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = p
}

// OpenStamps attaches the persistent timer-stamp store.
func (m *Manager) OpenStamps(path string) error {
	s, err := activation.OpenStamps(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamps = s
	return nil
}

// User reports whether this is a per-user manager.
func (m *Manager) User() bool { return m.user }

// Normalize appends ".service" to names without a recognized unit suffix.
func Normalize(name string) string {
	if _, err := unit.KindOf(name); err == nil {
		return name
	}
	return name + ".service"
}

// Load parses a unit into the table. A unit that is already loaded is kept
// as it is; its definition changes only through ReloadUnits or SyncUnits.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.loadLocked(Normalize(name))
	return err
}

func (m *Manager) loadLocked(name string) (unit.Unit, error) {
	if u, ok := m.units[name]; ok {
		return u, nil
	}
	u, err := m.loader.Load(name)
	if err != nil {
		return nil, err
	}
	m.insertLocked(u)
	return u, nil
}

func (m *Manager) insertLocked(u unit.Unit) {
	name := u.Name()
	m.units[name] = u
	if _, ok := m.states[name]; !ok {
		m.states[name] = NewState()
	}
}

// Insert adds a generated (non-file) unit to the table unless a unit of
// that name is already loaded.
func (m *Manager) Insert(u unit.Unit) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[u.Name()]; ok {
		return false
	}
	m.insertLocked(u)
	return true
}

// Get returns the loaded unit with the given name.
func (m *Manager) Get(name string) (unit.Unit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[Normalize(name)]
	return u, ok
}

// Status returns a copy of a unit's runtime state.
func (m *Manager) Status(name string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[Normalize(name)]
	if !ok {
		return State{}, fmt.Errorf("unit %q: %w", name, errdefs.ErrNotFound)
	}
	return *st, nil
}

// UnitStatus pairs a unit with its state for listings.
type UnitStatus struct {
	Name        string
	Kind        unit.Kind
	Description string
	State       State
}

// List returns the status of every loaded unit, sorted by name.
func (m *Manager) List() []UnitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UnitStatus, 0, len(m.units))
	for name, u := range m.units {
		st := m.states[name]
		out = append(out, UnitStatus{
			Name:        name,
			Kind:        u.Kind(),
			Description: u.Common().Description,
			State:       *st,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dependencies returns a unit's declared forward dependencies.
func (m *Manager) Dependencies(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.loadLocked(Normalize(name))
	if err != nil {
		return nil, err
	}
	c := u.Common()
	var deps []string
	deps = append(deps, c.Requires...)
	deps = append(deps, c.Wants...)
	deps = append(deps, c.After...)
	deps = append(deps, c.BindsTo...)
	return deps, nil
}

// findByPID maps a pid back to its service, consulting the ready-waiters
// first so Type=notify services match before their first READY.
func (m *Manager) findByPID(pid int) (string, bool) {
	if name, ok := m.waitingReady[pid]; ok {
		return name, true
	}
	for name, p := range m.processes {
		if p == pid {
			return name, true
		}
	}
	return "", false
}

func (m *Manager) service(name string) (*unit.Service, bool) {
	svc, ok := m.units[name].(*unit.Service)
	return svc, ok
}

// RuntimeDir is where the manager keeps its sockets.
func (m *Manager) RuntimeDir() string {
	if m.user {
		return fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	return "/run/sysd"
}

// EnsureRuntimeDir creates the runtime directory.
func (m *Manager) EnsureRuntimeDir() error {
	return os.MkdirAll(m.RuntimeDir(), 0o755)
}
