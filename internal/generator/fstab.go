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

// Package generator turns legacy configuration (fstab, kernel console=
// parameters) into units, replacing the external generator binaries.
package generator

import (
	"fmt"
	"os"
	"strings"

	"github.com/Osso/sysd/pkg/unit"
)

// FstabEntry is one line of /etc/fstab.
type FstabEntry struct {
	Spec       string
	MountPoint string
	FSType     string
	Options    string
	Dump       int
	Pass       int
}

// Swap reports whether the entry describes swap space rather than a mount.
func (e FstabEntry) Swap() bool {
	return e.FSType == "swap" || e.MountPoint == "none" || e.MountPoint == "swap"
}

// Auto reports whether the entry mounts at boot.
func (e FstabEntry) Auto() bool {
	return !e.hasOption("noauto")
}

// Network reports whether the filesystem needs the network up.
func (e FstabEntry) Network() bool {
	switch e.FSType {
	case "nfs", "nfs4", "cifs", "smbfs", "ncpfs", "fuse.sshfs":
		return true
	}
	return e.hasOption("_netdev")
}

// Bind reports whether the entry is a bind mount.
func (e FstabEntry) Bind() bool {
	return e.hasOption("bind") || e.hasOption("rbind")
}

func (e FstabEntry) hasOption(opt string) bool {
	for _, o := range strings.Split(e.Options, ",") {
		if strings.TrimSpace(o) == opt {
			return true
		}
	}
	return false
}

// Mount converts the entry into a mount unit with the dependencies its
// flavor needs.
func (e FstabEntry) Mount() *unit.Mount {
	m := &unit.Mount{
		What:          e.Spec,
		Where:         e.MountPoint,
		DirectoryMode: 0o755,
	}
	m.UnitName = unit.NameFromMountPoint(e.MountPoint)
	m.Unit.DefaultDependencies = true
	m.Unit.Description = "Mount " + e.MountPoint
	if e.FSType != "auto" {
		m.FSType = e.FSType
	}
	if e.Options != "defaults" {
		m.Options = e.Options
	}

	if e.Network() {
		m.Unit.After = append(m.Unit.After, "network-online.target")
		m.Unit.Wants = append(m.Unit.Wants, "network-online.target")
	}
	if e.MountPoint == "/" {
		m.Unit.DefaultDependencies = false
	} else {
		m.Unit.After = append(m.Unit.After, "local-fs-pre.target")
	}
	if e.Bind() {
		source := unit.NameFromMountPoint(e.Spec)
		m.Unit.Requires = append(m.Unit.Requires, source)
		m.Unit.After = append(m.Unit.After, source)
	}
	return m
}

// ParseFstab reads fstab-format content into entries, skipping comments
// and malformed lines.
func ParseFstab(content string) []FstabEntry {
	var entries []FstabEntry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		e := FstabEntry{
			Spec:       fields[0],
			MountPoint: fields[1],
			FSType:     fields[2],
			Options:    fields[3],
		}
		if len(fields) > 4 {
			fmt.Sscanf(fields[4], "%d", &e.Dump)
		}
		if len(fields) > 5 {
			fmt.Sscanf(fields[5], "%d", &e.Pass)
		}
		entries = append(entries, e)
	}
	return entries
}

// FstabMounts parses an fstab file and returns mount units for the entries
// mounted at boot (swap and noauto excluded).
func FstabMounts(path string) ([]*unit.Mount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mounts []*unit.Mount
	for _, e := range ParseFstab(string(data)) {
		if e.Swap() || !e.Auto() {
			continue
		}
		mounts = append(mounts, e.Mount())
	}
	return mounts, nil
}
