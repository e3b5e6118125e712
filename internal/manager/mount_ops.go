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
	"strings"

	"github.com/containerd/log"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/pkg/unit"
)

// mountFlags maps option tokens to mount(2) flags. Tokens not listed here
// join the filesystem-specific data string.
var mountFlags = map[string]uintptr{
	"ro":          unix.MS_RDONLY,
	"read-only":   unix.MS_RDONLY,
	"nosuid":      unix.MS_NOSUID,
	"nodev":       unix.MS_NODEV,
	"noexec":      unix.MS_NOEXEC,
	"noatime":     unix.MS_NOATIME,
	"nodiratime":  unix.MS_NODIRATIME,
	"relatime":    unix.MS_RELATIME,
	"strictatime": unix.MS_STRICTATIME,
	"sync":        unix.MS_SYNCHRONOUS,
	"dirsync":     unix.MS_DIRSYNC,
	"silent":      unix.MS_SILENT,
	"bind":        unix.MS_BIND,
	"move":        unix.MS_MOVE,
	"remount":     unix.MS_REMOUNT,
}

// parseMountOptions splits an options string into mount flags and
// filesystem data.
func parseMountOptions(options string) (uintptr, string) {
	var (
		flags uintptr
		data  []string
	)
	for _, opt := range strings.Split(options, ",") {
		opt = strings.TrimSpace(opt)
		switch opt {
		case "", "rw", "defaults":
		default:
			if f, ok := mountFlags[opt]; ok {
				flags |= f
			} else {
				data = append(data, opt)
			}
		}
	}
	return flags, strings.Join(data, ",")
}

// startMount performs the mount. A mount point that is already mounted
// counts as success.
func (m *Manager) startMount(mnt *unit.Mount, st *State) error {
	name := mnt.Name()
	st.setStarting()

	if mnt.DirectoryMode != 0 {
		if _, err := os.Stat(mnt.Where); os.IsNotExist(err) {
			if err := os.MkdirAll(mnt.Where, os.FileMode(mnt.DirectoryMode)); err != nil {
				log.L.WithError(err).Warnf("%s: cannot create mount point", name)
			}
		}
	}

	if mounted, err := mountinfo.Mounted(mnt.Where); err == nil && mounted {
		log.L.Infof("%s already mounted at %s", name, mnt.Where)
		st.setRunning(0)
		return nil
	}

	fsType := mnt.FSType
	if fsType == "" {
		fsType = "auto"
	}
	options := mnt.Options
	if options == "" {
		options = "defaults"
	}
	flags, data := parseMountOptions(strings.ReplaceAll(options, "%%", "%"))
	if mnt.ReadWriteOnly && flags&unix.MS_RDONLY != 0 {
		flags &^= unix.MS_RDONLY
	}

	log.L.Infof("mounting %s (%s) at %s", name, mnt.What, mnt.Where)
	if err := unix.Mount(mnt.What, mnt.Where, fsType, flags, data); err != nil {
		msg := fmt.Sprintf("mount %s at %s failed: %v", mnt.What, mnt.Where, err)
		st.setFailed(msg)
		return fmt.Errorf("%s: %s", name, msg)
	}
	st.setRunning(0)
	return nil
}

// stopMount unmounts. An already-unmounted mount point counts as success.
func (m *Manager) stopMount(mnt *unit.Mount, st *State) error {
	name := mnt.Name()
	st.setStopping()

	if mounted, err := mountinfo.Mounted(mnt.Where); err == nil && !mounted {
		log.L.Debugf("%s: %s not mounted", name, mnt.Where)
		st.setStopped(0)
		return nil
	}

	var flags int
	if mnt.LazyUnmount {
		flags |= unix.MNT_DETACH
	}
	if mnt.ForceUnmount {
		flags |= unix.MNT_FORCE
	}

	log.L.Infof("unmounting %s", mnt.Where)
	if err := unix.Unmount(mnt.Where, flags); err != nil {
		msg := fmt.Sprintf("umount %s failed: %v", mnt.Where, err)
		st.setFailed(msg)
		return fmt.Errorf("%s: %s", name, msg)
	}
	st.setStopped(0)
	return nil
}
