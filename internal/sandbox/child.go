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
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Child-setup fields carried alongside the sandbox proper. These run in the
// shim after the sandbox steps, immediately before exec.
type childSetup struct {
	LimitNOFILE    uint64 `json:"limit_nofile,omitempty"`
	OOMScoreAdjust *int   `json:"oom_score_adjust,omitempty"`

	TTYPath          string `json:"tty_path,omitempty"`
	TTYReset         bool   `json:"tty_reset,omitempty"`
	StandardInputTTY bool   `json:"standard_input_tty,omitempty"`

	// SetListenPID publishes LISTEN_PID for inherited socket listeners;
	// only the final process knows its own pid.
	SetListenPID bool `json:"set_listen_pid,omitempty"`
}

func (c childSetup) apply() error {
	if c.LimitNOFILE > 0 {
		lim := &unix.Rlimit{Cur: c.LimitNOFILE, Max: c.LimitNOFILE}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, lim); err != nil {
			return fmt.Errorf("setrlimit NOFILE: %w", err)
		}
	}
	if c.OOMScoreAdjust != nil {
		v := strconv.Itoa(*c.OOMScoreAdjust)
		if err := os.WriteFile("/proc/self/oom_score_adj", []byte(v), 0o644); err != nil {
			return fmt.Errorf("oom_score_adj: %w", err)
		}
	}
	if c.TTYPath != "" && c.StandardInputTTY {
		if err := c.attachTTY(); err != nil {
			return err
		}
	}
	if c.SetListenPID {
		os.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	}
	return nil
}

// attachTTY opens the configured terminal as the controlling tty and wires
// it to the standard streams.
func (c childSetup) attachTTY() error {
	fd, err := unix.Open(c.TTYPath, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.TTYPath, err)
	}
	if c.TTYReset {
		if t, err := unix.IoctlGetTermios(fd, unix.TCGETS); err == nil {
			t.Iflag = unix.ICRNL | unix.IXON | unix.IUTF8
			t.Oflag = unix.OPOST | unix.ONLCR
			t.Cflag |= unix.CREAD | unix.HUPCL
			t.Lflag = unix.ISIG | unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK
			_ = unix.IoctlSetTermios(fd, unix.TCSETS, t)
		}
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		// Not fatal: another session may own the terminal.
		fmt.Fprintf(os.Stderr, "sysd: cannot take controlling tty %s: %v\n", c.TTYPath, err)
	}
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup3(fd, std, 0); err != nil {
			return fmt.Errorf("dup tty to fd %d: %w", std, err)
		}
	}
	if fd > 2 {
		unix.Close(fd)
	}
	return nil
}

// Run is the body of the sandbox-exec shim: apply the sandbox, finish the
// child setup, and exec argv. It only returns on error.
func Run(spec Spec, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("sandbox-exec: empty argv")
	}
	if err := spec.Apply(); err != nil {
		return err
	}
	if err := spec.childSetup.apply(); err != nil {
		return err
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("lookup %s: %w", argv[0], err)
	}
	return unix.Exec(path, argv, os.Environ())
}
