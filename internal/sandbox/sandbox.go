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

// Package sandbox applies the security directives of a service between spawn
// and exec. The supervisor re-executes itself as `sysd sandbox-exec`, which
// decodes a Spec from the environment, applies each step and finally execs
// the target command. Any failing step is fatal to the child only; the
// supervisor observes it as a non-zero exit.
package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/pkg/unit"
)

// SpecEnv is the environment variable carrying the encoded Spec into the
// sandbox-exec shim.
const SpecEnv = "SYSD_SANDBOX_SPEC"

// Spec is the serializable sandbox description handed to the shim.
type Spec struct {
	NoNewPrivileges      bool               `json:"no_new_privileges,omitempty"`
	ProtectKernelModules bool               `json:"protect_kernel_modules,omitempty"`
	ProtectSystem        unit.ProtectSystem `json:"protect_system,omitempty"`
	ProtectHome          unit.ProtectHome   `json:"protect_home,omitempty"`
	ProtectProc          unit.ProtectProc   `json:"protect_proc,omitempty"`
	PrivateTmp           bool               `json:"private_tmp,omitempty"`
	PrivateDevices       bool               `json:"private_devices,omitempty"`
	PrivateNetwork       bool               `json:"private_network,omitempty"`

	CapabilityBoundingSet []string `json:"capability_bounding_set,omitempty"`
	AmbientCapabilities   []string `json:"ambient_capabilities,omitempty"`

	ReadWritePaths    []string `json:"read_write_paths,omitempty"`
	ReadOnlyPaths     []string `json:"read_only_paths,omitempty"`
	InaccessiblePaths []string `json:"inaccessible_paths,omitempty"`

	// Accepted but not compiled into a kernel filter.
	SystemCallFilter []string `json:"system_call_filter,omitempty"`

	childSetup
}

// FromService builds a Spec from a service's sandbox directives.
func FromService(sb *unit.Sandbox) Spec {
	return Spec{
		NoNewPrivileges:       sb.NoNewPrivileges,
		ProtectKernelModules:  sb.ProtectKernelModules,
		ProtectSystem:         sb.ProtectSystem,
		ProtectHome:           sb.ProtectHome,
		ProtectProc:           sb.ProtectProc,
		PrivateTmp:            sb.PrivateTmp,
		PrivateDevices:        sb.PrivateDevices,
		PrivateNetwork:        sb.PrivateNetwork,
		CapabilityBoundingSet: sb.CapabilityBoundingSet,
		AmbientCapabilities:   sb.AmbientCapabilities,
		ReadWritePaths:        sb.ReadWritePaths,
		ReadOnlyPaths:         sb.ReadOnlyPaths,
		InaccessiblePaths:     sb.InaccessiblePaths,
		SystemCallFilter:      sb.SystemCallFilter,
	}
}

// Encode renders the spec for transport through the environment.
func (s Spec) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a spec encoded with Encode.
func Decode(s string) (Spec, error) {
	var spec Spec
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return spec, fmt.Errorf("decode sandbox spec: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("unmarshal sandbox spec: %w", err)
	}
	return spec, nil
}

// NeedsMountNamespace mirrors unit.Sandbox.NeedsMountNamespace for the wire
// form.
func (s Spec) NeedsMountNamespace() bool {
	return s.ProtectSystem != "" && s.ProtectSystem != unit.ProtectSystemNo ||
		s.ProtectHome != "" && s.ProtectHome != unit.ProtectHomeNo ||
		s.ProtectProc != "" && s.ProtectProc != unit.ProtectProcDefault ||
		s.PrivateTmp || s.PrivateDevices ||
		len(s.ReadWritePaths) > 0 || len(s.ReadOnlyPaths) > 0 ||
		len(s.InaccessiblePaths) > 0
}

// Apply runs every sandbox step in order. It must only be called in the
// short-lived shim process, never in the supervisor: namespace unsharing is
// per-thread, so the calling goroutine is pinned to its OS thread until exec.
func (s Spec) Apply() error {
	runtime.LockOSThread()

	if s.NoNewPrivileges {
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return fmt.Errorf("set no_new_privs: %w", err)
		}
	}
	if s.ProtectKernelModules {
		if err := dropBoundingCap(capability.CAP_SYS_MODULE); err != nil {
			return err
		}
	}
	if err := s.applyBoundingSet(); err != nil {
		return err
	}
	if err := s.applyAmbient(); err != nil {
		return err
	}
	if s.PrivateNetwork {
		if err := unix.Unshare(unix.CLONE_NEWNET); err != nil {
			return fmt.Errorf("unshare network namespace: %w", err)
		}
	}
	if s.NeedsMountNamespace() {
		if err := s.applyMounts(); err != nil {
			return err
		}
	}
	// SystemCallFilter= is accepted but not compiled into a kernel filter.
	return nil
}

func capByName(name string) (capability.Cap, bool) {
	name = strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "CAP_"))
	for _, c := range capability.List() {
		if strings.ToUpper(c.String()) == name {
			return c, true
		}
	}
	return 0, false
}

func dropBoundingCap(c capability.Cap) error {
	if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(c), 0, 0, 0); err != nil {
		return fmt.Errorf("drop capability %s: %w", c, err)
	}
	return nil
}

// applyBoundingSet interprets "~cap" entries as drops. A keep-list is not
// fully supported; it is accepted with a note on stderr so the child's log
// shows it.
func (s Spec) applyBoundingSet() error {
	var keep []string
	for _, entry := range s.CapabilityBoundingSet {
		if name, ok := strings.CutPrefix(entry, "~"); ok {
			c, known := capByName(name)
			if !known {
				continue
			}
			if err := dropBoundingCap(c); err != nil {
				return err
			}
		} else {
			keep = append(keep, entry)
		}
	}
	if len(keep) > 0 {
		fmt.Fprintf(os.Stderr, "sysd: CapabilityBoundingSet keep-list not supported, keeping full set for %v\n", keep)
	}
	return nil
}

func (s Spec) applyAmbient() error {
	for _, entry := range s.AmbientCapabilities {
		c, ok := capByName(entry)
		if !ok {
			continue
		}
		if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_RAISE, uintptr(c), 0, 0); err != nil {
			return fmt.Errorf("raise ambient capability %s: %w", c, err)
		}
	}
	return nil
}
