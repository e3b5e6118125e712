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

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/pkg/unit"
)

// applyMounts unshares the mount namespace, makes existing mounts private
// and layers the filesystem protections on top.
func (s Spec) applyMounts() error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("unshare mount namespace: %w", err)
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mounts private: %w", err)
	}

	switch s.ProtectSystem {
	case unit.ProtectSystemYes:
		bindReadOnly("/usr")
		bindReadOnly("/boot")
	case unit.ProtectSystemFull:
		bindReadOnly("/usr")
		bindReadOnly("/boot")
		bindReadOnly("/etc")
	case unit.ProtectSystemStrict:
		if err := bindReadOnly("/"); err != nil {
			return err
		}
		for _, p := range []string{"/dev", "/proc", "/sys", "/run", "/tmp", "/var"} {
			if exists(p) {
				remountReadWrite(p)
			}
		}
	}

	homes := []string{"/home", "/root", "/run/user"}
	switch s.ProtectHome {
	case unit.ProtectHomeYes:
		for _, p := range homes {
			if exists(p) {
				if err := mountTmpfs(p, unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC); err != nil {
					return err
				}
			}
		}
	case unit.ProtectHomeReadOnly:
		for _, p := range homes {
			if exists(p) {
				if err := bindReadOnly(p); err != nil {
					return err
				}
			}
		}
	case unit.ProtectHomeTmpfs:
		for _, p := range homes {
			if exists(p) {
				if err := mountTmpfs(p, unix.MS_NOSUID|unix.MS_NODEV); err != nil {
					return err
				}
			}
		}
	}

	if s.PrivateTmp {
		if err := mountTmpfs("/tmp", unix.MS_NOSUID|unix.MS_NODEV); err != nil {
			return err
		}
		if err := mountTmpfs("/var/tmp", unix.MS_NOSUID|unix.MS_NODEV); err != nil {
			return err
		}
	}
	if s.PrivateDevices {
		if err := privateDevices(); err != nil {
			return err
		}
	}

	switch s.ProtectProc {
	case unit.ProtectProcInvisible:
		if err := remountProc("hidepid=2"); err != nil {
			return err
		}
	case unit.ProtectProcPtraceable:
		if err := remountProc("hidepid=1"); err != nil {
			return err
		}
	case unit.ProtectProcNoAccess:
		if err := mountTmpfs("/proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC); err != nil {
			return err
		}
	}

	for _, p := range s.InaccessiblePaths {
		if exists(p) {
			if err := mountTmpfs(p, unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC); err != nil {
				return err
			}
		}
	}
	for _, p := range s.ReadOnlyPaths {
		if exists(p) {
			if err := bindReadOnly(p); err != nil {
				return err
			}
		}
	}
	for _, p := range s.ReadWritePaths {
		if exists(p) {
			remountReadWrite(p)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// bindReadOnly bind-mounts a path over itself and remounts it read-only.
func bindReadOnly(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", path, err)
	}
	return nil
}

func remountReadWrite(path string) {
	// Best effort: the path may not be a mount point of its own.
	_ = unix.Mount("", path, "", unix.MS_REMOUNT|unix.MS_BIND, "")
}

func mountTmpfs(path string, flags uintptr) error {
	if err := unix.Mount("tmpfs", path, "tmpfs", flags, ""); err != nil {
		return fmt.Errorf("mount tmpfs on %s: %w", path, err)
	}
	return nil
}

// privateDevices replaces /dev with a tmpfs carrying only the safe device
// nodes.
func privateDevices() error {
	if err := mountTmpfs("/dev", unix.MS_NOSUID); err != nil {
		return err
	}
	devices := []struct {
		path         string
		major, minor uint32
	}{
		{"/dev/null", 1, 3},
		{"/dev/zero", 1, 5},
		{"/dev/full", 1, 7},
		{"/dev/random", 1, 8},
		{"/dev/urandom", 1, 9},
	}
	for _, d := range devices {
		dev := unix.Mkdev(d.major, d.minor)
		if err := unix.Mknod(d.path, unix.S_IFCHR|0o666, int(dev)); err != nil {
			return fmt.Errorf("mknod %s: %w", d.path, err)
		}
	}
	for _, dir := range []string{"/dev/pts", "/dev/shm"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func remountProc(options string) error {
	// Detach the inherited /proc first; a plain remount cannot change
	// hidepid on a shared mount.
	_ = unix.Unmount("/proc", unix.MNT_DETACH)
	if err := unix.Mount("proc", "/proc", "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, options); err != nil {
		return fmt.Errorf("remount /proc with %s: %w", options, err)
	}
	return nil
}
