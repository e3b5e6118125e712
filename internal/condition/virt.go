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

package condition

import (
	"os"
	"strings"
)

// Virtualization identifies a detected container or VM environment.
type Virtualization struct {
	Name      string
	Container bool
}

// DetectVirtualization probes the usual markers: container env files,
// /proc/1/environ, and DMI strings for hypervisors. Returns nil on bare
// metal.
func DetectVirtualization() *Virtualization {
	if pathExists("/.dockerenv") {
		return &Virtualization{Name: "docker", Container: true}
	}
	if pathExists("/run/.containerenv") {
		return &Virtualization{Name: "podman", Container: true}
	}
	if data, err := os.ReadFile("/proc/1/environ"); err == nil {
		for _, kv := range strings.Split(string(data), "\x00") {
			if v, ok := strings.CutPrefix(kv, "container="); ok {
				name := strings.ToLower(v)
				if name == "" {
					name = "container"
				}
				return &Virtualization{Name: name, Container: true}
			}
		}
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		if strings.Contains(string(data), "/machine.slice/") {
			return &Virtualization{Name: "systemd-nspawn", Container: true}
		}
	}

	for _, probe := range []string{
		"/sys/class/dmi/id/product_name",
		"/sys/class/dmi/id/sys_vendor",
	} {
		data, err := os.ReadFile(probe)
		if err != nil {
			continue
		}
		s := strings.ToLower(strings.TrimSpace(string(data)))
		switch {
		case strings.Contains(s, "qemu"), strings.Contains(s, "kvm"):
			return &Virtualization{Name: "qemu"}
		case strings.Contains(s, "vmware"):
			return &Virtualization{Name: "vmware"}
		case strings.Contains(s, "virtualbox"), strings.Contains(s, "innotek"), strings.Contains(s, "oracle"):
			return &Virtualization{Name: "virtualbox"}
		case strings.Contains(s, "xen"):
			return &Virtualization{Name: "xen"}
		case strings.Contains(s, "bochs"):
			return &Virtualization{Name: "bochs"}
		case strings.Contains(s, "hyper-v"), strings.Contains(s, "microsoft"):
			return &Virtualization{Name: "hyper-v"}
		}
	}
	return nil
}

// virtualizationMatches interprets a ConditionVirtualization= value:
// yes/no, the classes "vm" and "container", or a specific name.
func (e *Evaluator) virtualizationMatches(check string) bool {
	detected := DetectVirtualization()
	switch strings.ToLower(check) {
	case "yes", "true":
		return detected != nil
	case "no", "false":
		return detected == nil
	case "container":
		return detected != nil && detected.Container
	case "vm":
		return detected != nil && !detected.Container
	}
	return detected != nil && detected.Name == strings.ToLower(check)
}
