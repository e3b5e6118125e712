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
	"os"
	"sort"
	"strings"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// ShutdownMode selects the final reboot(2) action.
type ShutdownMode int

const (
	ModePoweroff ShutdownMode = iota
	ModeReboot
	ModeHalt
)

func (m ShutdownMode) rebootCmd() int {
	switch m {
	case ModeReboot:
		return unix.LINUX_REBOOT_CMD_RESTART
	case ModeHalt:
		return unix.LINUX_REBOOT_CMD_HALT
	}
	return unix.LINUX_REBOOT_CMD_POWER_OFF
}

// Shutdown executes the final shutdown sequence: terminate everything,
// sync, unmount, and invoke the reboot syscall. It never returns; PID 1
// cannot exit, so a failed reboot call parks forever.
func Shutdown(mode ShutdownMode) {
	log.L.Infof("executing shutdown (mode %d)", mode)

	// SIGTERM to everyone but ourselves, a grace period, then SIGKILL.
	log.L.Info("sending SIGTERM to all processes")
	_ = unix.Kill(-1, unix.SIGTERM)
	time.Sleep(5 * time.Second)
	log.L.Info("sending SIGKILL to remaining processes")
	_ = unix.Kill(-1, unix.SIGKILL)
	time.Sleep(100 * time.Millisecond)
	ReapAll()

	unix.Sync()
	unmountAll()
	unix.Sync()

	if err := unix.Reboot(mode.rebootCmd()); err != nil {
		log.L.WithError(err).Error("reboot syscall failed")
	}
	for {
		time.Sleep(time.Second)
	}
}

// unmountAll detaches every mount except the critical virtual filesystems
// and root, deepest paths first.
func unmountAll() {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		log.L.WithError(err).Error("cannot read /proc/mounts")
		return
	}

	var points []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			points = append(points, fields[1])
		}
	}
	// Children before parents.
	sort.Sort(sort.Reverse(sort.StringSlice(points)))

	skip := map[string]bool{"/": true, "/proc": true, "/sys": true, "/dev": true}
	for _, point := range points {
		if skip[point] {
			continue
		}
		log.L.Debugf("unmounting %s", point)
		if err := unix.Unmount(point, 0); err != nil {
			if err := unix.Unmount(point, unix.MNT_DETACH); err != nil {
				log.L.WithError(err).Warnf("cannot unmount %s", point)
			}
		}
	}
}
