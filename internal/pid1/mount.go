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

package pid1

import (
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

type mountPoint struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string
}

// essentialMounts are the virtual filesystems a working system needs,
// mounted in order. Already-mounted targets are skipped.
var essentialMounts = []mountPoint{
	{"proc", "/proc", "proc", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, ""},
	{"sysfs", "/sys", "sysfs", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, ""},
	{"devtmpfs", "/dev", "devtmpfs", unix.MS_NOSUID, "mode=0755"},
	{"devpts", "/dev/pts", "devpts", unix.MS_NOSUID | unix.MS_NOEXEC, "gid=5,mode=0620,ptmxmode=0666"},
	{"tmpfs", "/dev/shm", "tmpfs", unix.MS_NOSUID | unix.MS_NODEV, "mode=1777"},
	{"tmpfs", "/run", "tmpfs", unix.MS_NOSUID | unix.MS_NODEV, "mode=0755"},
	{"cgroup2", "/sys/fs/cgroup", "cgroup2", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, ""},
}

// MountEssential mounts /proc, /sys, /dev, /run and the cgroup2 hierarchy,
// then creates the standard /run directories.
func MountEssential() error {
	for _, mp := range essentialMounts {
		if err := mountOne(mp); err != nil {
			return err
		}
	}
	for _, dir := range []string{"/run/lock", "/run/user"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	log.L.Info("essential filesystems mounted")
	return nil
}

func mountOne(mp mountPoint) error {
	if mounted, err := mountinfo.Mounted(mp.target); err == nil && mounted {
		log.L.Debugf("%s already mounted", mp.target)
		return nil
	}
	if err := os.MkdirAll(mp.target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", mp.target, err)
	}
	if err := unix.Mount(mp.source, mp.target, mp.fstype, mp.flags, mp.data); err != nil {
		return fmt.Errorf("mount %s on %s: %w", mp.fstype, mp.target, err)
	}
	log.L.Debugf("mounted %s on %s", mp.fstype, mp.target)
	return nil
}
