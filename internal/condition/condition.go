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

// Package condition evaluates Condition*= directives. A failing condition is
// not an error: the unit is skipped with a reason.
package condition

import (
	"fmt"
	"os"
	"strings"

	"github.com/syndtr/gocapability/capability"

	"github.com/Osso/sysd/pkg/unit"
)

// Evaluator checks unit conditions against the host. The probe file paths
// are fields so tests can point them at fixtures.
type Evaluator struct {
	CmdlinePath   string
	MachineIDPath string
	FirstBootPath string
	UpdateDoneDir string
}

// NewEvaluator returns an evaluator probing the real host paths.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		CmdlinePath:   "/proc/cmdline",
		MachineIDPath: "/etc/machine-id",
		FirstBootPath: "/run/sysd/first-boot",
		UpdateDoneDir: "/var/lib/sysd/update-done.d",
	}
}

// Evaluate returns "" when every condition passes, or the reason of the
// first failing condition.
func (e *Evaluator) Evaluate(c *unit.Common) string {
	for _, raw := range c.ConditionPathExists {
		negated, path := cutNegation(raw)
		exists := pathExists(path)
		if exists == negated {
			return fmt.Sprintf("ConditionPathExists=%s failed", raw)
		}
	}
	for _, raw := range c.ConditionDirectoryNotEmpty {
		negated, path := cutNegation(raw)
		if directoryNotEmpty(path) == negated {
			return fmt.Sprintf("ConditionDirectoryNotEmpty=%s failed", raw)
		}
	}
	for _, raw := range c.ConditionVirtualization {
		negated, check := cutNegation(raw)
		if e.virtualizationMatches(check) == negated {
			return fmt.Sprintf("ConditionVirtualization=%s failed", raw)
		}
	}
	for _, raw := range c.ConditionCapability {
		negated, name := cutNegation(raw)
		if hasCapability(name) == negated {
			return fmt.Sprintf("ConditionCapability=%s failed", raw)
		}
	}
	for _, raw := range c.ConditionKernelCommandLine {
		negated, param := cutNegation(raw)
		if e.kernelCmdlineHas(param) == negated {
			return fmt.Sprintf("ConditionKernelCommandLine=%s failed", raw)
		}
	}
	for _, raw := range c.ConditionSecurity {
		negated, framework := cutNegation(raw)
		if securityActive(framework) == negated {
			return fmt.Sprintf("ConditionSecurity=%s failed", raw)
		}
	}
	if c.ConditionFirstBoot != nil {
		if e.firstBoot() != *c.ConditionFirstBoot {
			return fmt.Sprintf("ConditionFirstBoot=%v failed", *c.ConditionFirstBoot)
		}
	}
	for _, raw := range c.ConditionNeedsUpdate {
		negated, check := cutNegation(raw)
		// A leading '|' is the trigger flag; the path follows.
		check = strings.TrimPrefix(check, "|")
		if e.needsUpdate(check) == negated {
			return fmt.Sprintf("ConditionNeedsUpdate=%s failed", raw)
		}
	}
	return ""
}

func cutNegation(s string) (bool, string) {
	if rest, ok := strings.CutPrefix(s, "!"); ok {
		return true, rest
	}
	return false, s
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func directoryNotEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

func hasCapability(name string) bool {
	cap := capabilityByName(name)
	if cap < 0 {
		return false
	}
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(capability.EFFECTIVE, capability.Cap(cap))
}

func capabilityByName(name string) int {
	name = strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "CAP_"))
	for _, c := range capability.List() {
		if strings.ToUpper(c.String()) == name {
			return int(c)
		}
	}
	return -1
}

func (e *Evaluator) kernelCmdlineHas(param string) bool {
	data, err := os.ReadFile(e.CmdlinePath)
	if err != nil {
		return false
	}
	for _, word := range strings.Fields(string(data)) {
		if word == param {
			return true
		}
		if !strings.Contains(param, "=") && strings.HasPrefix(word, param+"=") {
			return true
		}
	}
	return false
}

func securityActive(framework string) bool {
	switch strings.ToLower(framework) {
	case "selinux":
		return pathExists("/sys/fs/selinux")
	case "apparmor":
		return pathExists("/sys/kernel/security/apparmor")
	case "smack":
		return pathExists("/sys/fs/smackfs")
	case "tomoyo":
		return pathExists("/sys/kernel/security/tomoyo")
	case "ima":
		return pathExists("/sys/kernel/security/ima")
	case "audit":
		return pathExists("/proc/self/loginuid")
	case "uefi-secureboot":
		entries, err := os.ReadDir("/sys/firmware/efi/efivars")
		if err != nil {
			return false
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "SecureBoot-") {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) firstBoot() bool {
	if pathExists(e.FirstBootPath) {
		return true
	}
	data, err := os.ReadFile(e.MachineIDPath)
	if err != nil {
		return true
	}
	id := strings.TrimSpace(string(data))
	return id == "" || strings.Trim(id, "0") == ""
}

// needsUpdate reports whether the directory's mtime is newer than its
// update-done stamp.
func (e *Evaluator) needsUpdate(path string) bool {
	var stamp string
	switch path {
	case "/etc":
		stamp = e.UpdateDoneDir + "/etc"
	case "/var":
		stamp = e.UpdateDoneDir + "/var"
	default:
		return false
	}
	stampInfo, err := os.Stat(stamp)
	if err != nil {
		return true
	}
	dirInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return dirInfo.ModTime().After(stampInfo.ModTime())
}
