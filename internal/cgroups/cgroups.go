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

// Package cgroups manages the cgroup2 hierarchy for units: one directory per
// service under its slice, slices nesting by dash-separated name.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/cgroups/v3/cgroup2"
	"github.com/containerd/log"

	"github.com/Osso/sysd/pkg/unit"
)

// DefaultMountpoint is the cgroup2 unified hierarchy mount point.
const DefaultMountpoint = "/sys/fs/cgroup"

// Limits are the resource caps applied to a unit's cgroup.
type Limits struct {
	MemoryMax uint64
	// CPUQuota in percent; 100 is one full CPU.
	CPUQuota uint32
	TasksMax uint64
}

// Manager creates and destroys per-unit cgroups.
type Manager struct {
	mountpoint string
}

// New returns a manager over the unified hierarchy, verifying cgroup2 is
// mounted.
func New() (*Manager, error) {
	if _, err := os.Stat(filepath.Join(DefaultMountpoint, "cgroup.controllers")); err != nil {
		return nil, fmt.Errorf("cgroup2 not mounted at %s: %w", DefaultMountpoint, err)
	}
	return &Manager{mountpoint: DefaultMountpoint}, nil
}

// UnitGroup returns the cgroup path (relative to the mountpoint, leading
// slash) for a unit under the given slice. An empty slice means
// system.slice.
func UnitGroup(slice, name string) string {
	if slice == "" {
		slice = "system.slice"
	}
	return "/" + filepath.Join(unit.SliceCgroupPath(slice), name)
}

// Create ensures the unit's cgroup exists and applies the limits. Returns
// the group path for later lookups.
func (m *Manager) Create(slice, name string, limits Limits) (string, error) {
	group := UnitGroup(slice, name)
	res := &cgroup2.Resources{}
	if limits.MemoryMax > 0 {
		max := int64(limits.MemoryMax)
		res.Memory = &cgroup2.Memory{Max: &max}
	}
	if limits.CPUQuota > 0 {
		quota := int64(limits.CPUQuota) * 1000
		period := uint64(100000)
		res.CPU = &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)}
	}
	if limits.TasksMax > 0 {
		res.Pids = &cgroup2.Pids{Max: int64(limits.TasksMax)}
	}
	if _, err := cgroup2.NewManager(m.mountpoint, group, res); err != nil {
		return "", fmt.Errorf("create cgroup %s: %w", group, err)
	}
	return group, nil
}

// CreateSlice ensures a slice's cgroup directory exists.
func (m *Manager) CreateSlice(name string) (string, error) {
	group := "/" + unit.SliceCgroupPath(name)
	if group == "/" {
		return group, nil
	}
	if _, err := cgroup2.NewManager(m.mountpoint, group, &cgroup2.Resources{}); err != nil {
		return "", fmt.Errorf("create slice cgroup %s: %w", group, err)
	}
	return group, nil
}

// AddProc moves a pid into the unit's cgroup.
func (m *Manager) AddProc(group string, pid int) error {
	cg, err := cgroup2.LoadManager(m.mountpoint, group)
	if err != nil {
		return fmt.Errorf("load cgroup %s: %w", group, err)
	}
	if err := cg.AddProc(uint64(pid)); err != nil {
		return fmt.Errorf("move pid %d into %s: %w", pid, group, err)
	}
	return nil
}

// Procs lists the pids currently in the group, recursively.
func (m *Manager) Procs(group string) ([]int, error) {
	cg, err := cgroup2.LoadManager(m.mountpoint, group)
	if err != nil {
		return nil, fmt.Errorf("load cgroup %s: %w", group, err)
	}
	raw, err := cg.Procs(true)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(raw))
	for _, p := range raw {
		pids = append(pids, int(p))
	}
	return pids, nil
}

// Kill sends SIGKILL to everything in the group via cgroup.kill.
func (m *Manager) Kill(group string) error {
	cg, err := cgroup2.LoadManager(m.mountpoint, group)
	if err != nil {
		return fmt.Errorf("load cgroup %s: %w", group, err)
	}
	return cg.Kill()
}

// Delete removes the group once it is empty. A still-populated group is left
// alone for the kernel to reap later.
func (m *Manager) Delete(group string) {
	cg, err := cgroup2.LoadManager(m.mountpoint, group)
	if err != nil {
		return
	}
	if err := cg.Delete(); err != nil {
		log.L.WithError(err).Debugf("leaving cgroup %s for later cleanup", group)
	}
}

// Populated reports whether any process remains in the group.
func (m *Manager) Populated(group string) bool {
	pids, err := m.Procs(group)
	return err == nil && len(pids) > 0
}
