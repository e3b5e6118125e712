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
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/shlex"
	"github.com/moby/sys/user"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/sandbox"
	"github.com/Osso/sysd/pkg/unit"
)

// ShimCommand is the hidden subcommand the supervisor re-executes to apply
// the sandbox between spawn and exec.
const ShimCommand = "sandbox-exec"

// execLine is one parsed Exec*= command.
type execLine struct {
	argv []string
	// tolerant commands (prefixed with '-') may fail without failing
	// the unit.
	tolerant bool
}

// parseExecLine splits an Exec*= value with shell quoting and strips the
// systemd prefix characters.
func parseExecLine(raw, name, instance string) (execLine, error) {
	raw = strings.TrimSpace(unit.Specifiers(raw, name, instance))
	var line execLine
	for len(raw) > 0 {
		switch raw[0] {
		case '-':
			line.tolerant = true
		case '@', '+', '!':
			// Accepted and ignored.
		default:
			goto done
		}
		raw = raw[1:]
	}
done:
	argv, err := shlex.Split(raw)
	if err != nil || len(argv) == 0 {
		return line, fmt.Errorf("exec line %q: %w", raw, errdefs.ErrInvalidArgument)
	}
	line.argv = argv
	return line, nil
}

// identity is the resolved uid/gid a service runs as.
type identity struct {
	set      bool
	uid, gid uint32
}

// resolveIdentity resolves User=/Group=, allocating from the ephemeral pool
// for DynamicUser=.
func (m *Manager) resolveIdentity(svc *unit.Service) (identity, error) {
	if svc.User == "" && !svc.DynamicUser {
		return identity{}, nil
	}
	if svc.User != "" {
		uid, gid, err := lookupUser(svc.User)
		if err != nil {
			return identity{}, err
		}
		if svc.Group != "" {
			if g, err := lookupGroup(svc.Group); err == nil {
				gid = g
			}
		}
		return identity{set: true, uid: uid, gid: gid}, nil
	}
	uid, err := m.dynUsers.allocate()
	if err != nil {
		return identity{}, err
	}
	m.dynamicUIDs[svc.Name()] = uid
	log.L.Debugf("allocated dynamic uid %d for %s", uid, svc.Name())
	return identity{set: true, uid: uid, gid: uid}, nil
}

func lookupUser(name string) (uint32, uint32, error) {
	if uid, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(uid), uint32(uid), nil
	}
	u, err := user.LookupUser(name)
	if err != nil {
		return 0, 0, fmt.Errorf("user %q: %w", name, err)
	}
	return uint32(u.Uid), uint32(u.Gid), nil
}

func lookupGroup(name string) (uint32, error) {
	if gid, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(gid), nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("group %q: %w", name, err)
	}
	return uint32(g.Gid), nil
}

// buildEnv assembles the child environment: cleared, then declared
// variables, then environment files, then the runtime variables.
func (m *Manager) buildEnv(svc *unit.Service, listenFDs int) []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"TERM=linux",
	}
	for _, kv := range svc.Environment {
		env = append(env, kv[0]+"="+kv[1])
	}
	for _, file := range svc.EnvironmentFiles {
		tolerant := false
		if rest, ok := strings.CutPrefix(file, "-"); ok {
			tolerant = true
			file = rest
		}
		vars, err := loadEnvFile(file)
		if err != nil {
			if !tolerant {
				log.L.WithError(err).Warnf("%s: environment file %s", svc.Name(), file)
			}
			continue
		}
		env = append(env, vars...)
	}
	if svc.Type == unit.TypeNotify {
		env = append(env, "NOTIFY_SOCKET="+m.notifyPath())
	}
	if listenFDs > 0 {
		env = append(env, fmt.Sprintf("LISTEN_FDS=%d", listenFDs))
	}
	return env
}

func loadEnvFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vars []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"'`)
		vars = append(vars, k+"="+v)
	}
	return vars, nil
}

// command builds the exec.Cmd for a service command line. Every child goes
// through the sandbox-exec shim, which applies the sandbox and child setup
// (rlimits, oom adjust, tty, LISTEN_PID) and then execs the target.
func (m *Manager) command(svc *unit.Service, line execLine, id identity, listeners []*os.File) (*exec.Cmd, error) {
	spec := sandbox.FromService(&svc.Sandbox)
	spec.LimitNOFILE = svc.LimitNOFILE
	if svc.HasOOMScoreAdjust() {
		adj := svc.OOMScoreAdjust
		spec.OOMScoreAdjust = &adj
	}
	spec.TTYPath = svc.TTYPath
	spec.TTYReset = svc.TTYReset
	spec.StandardInputTTY = svc.StandardInput == unit.InputTty ||
		svc.StandardInput == unit.InputTtyForce || svc.StandardInput == unit.InputTtyFail
	spec.SetListenPID = len(listeners) > 0

	encoded, err := spec.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode sandbox spec: %w", err)
	}

	args := append([]string{ShimCommand, "--"}, line.argv...)
	cmd := exec.Command(m.selfExe, args...)
	cmd.Env = append(m.buildEnv(svc, len(listeners)), sandbox.SpecEnv+"="+encoded)
	cmd.Dir = svc.WorkingDirectory
	cmd.ExtraFiles = listeners
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if id.set {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: id.uid, Gid: id.gid}
	}

	switch svc.StandardOutput {
	case unit.OutputNull:
		cmd.Stdout = nil
	default:
		cmd.Stdout = os.Stdout
	}
	switch svc.StandardError {
	case unit.OutputNull:
		cmd.Stderr = nil
	default:
		cmd.Stderr = os.Stderr
	}
	return cmd, nil
}

// runBlocking starts a command and waits for it, escalating to SIGKILL when
// the timeout passes. Used for ExecStartPre/Post/Stop command lines.
func runBlocking(cmd *exec.Cmd, timeout time.Duration) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", cmd.Path, err)
	}
	waitc := make(chan error, 1)
	go func() { waitc <- cmd.Wait() }()
	select {
	case err := <-waitc:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-waitc
		return fmt.Errorf("%s: %w", cmd.Path, context.DeadlineExceeded)
	}
}

// waitPid polls for a specific child to exit, without blocking the reaper's
// wait on other children. Returns the exit code and whether it exited
// before the deadline.
func waitPid(pid int, timeout time.Duration) (int, bool) {
	deadline := time.Now().Add(timeout)
	for {
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.ECHILD:
			// Already reaped elsewhere; treat as clean.
			return 0, true
		case got == pid:
			return exitCode(ws), true
		}
		if time.Now().After(deadline) {
			return 0, false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func exitCode(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return -1
}
