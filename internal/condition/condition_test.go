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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

func TestConditionPathExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, nil, 0o644))
	missing := filepath.Join(dir, "missing")

	e := NewEvaluator()

	c := &unit.Common{ConditionPathExists: []string{present}}
	assert.Empty(t, e.Evaluate(c))

	c = &unit.Common{ConditionPathExists: []string{missing}}
	assert.Contains(t, e.Evaluate(c), "ConditionPathExists")

	c = &unit.Common{ConditionPathExists: []string{"!" + missing}}
	assert.Empty(t, e.Evaluate(c))

	c = &unit.Common{ConditionPathExists: []string{"!" + present}}
	assert.NotEmpty(t, e.Evaluate(c))
}

func TestConditionDirectoryNotEmpty(t *testing.T) {
	full := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(full, "entry"), nil, 0o644))
	empty := t.TempDir()

	e := NewEvaluator()

	assert.Empty(t, e.Evaluate(&unit.Common{ConditionDirectoryNotEmpty: []string{full}}))
	assert.NotEmpty(t, e.Evaluate(&unit.Common{ConditionDirectoryNotEmpty: []string{empty}}))
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionDirectoryNotEmpty: []string{"!" + empty}}))
}

func TestConditionKernelCommandLine(t *testing.T) {
	dir := t.TempDir()
	cmdline := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(cmdline, []byte("ro quiet root=/dev/sda1 console=ttyS0,115200\n"), 0o644))

	e := NewEvaluator()
	e.CmdlinePath = cmdline

	assert.Empty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"quiet"}}))
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"root=/dev/sda1"}}))
	// Bare key matches key=value parameters too.
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"root"}}))
	assert.NotEmpty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"single"}}))
	assert.NotEmpty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"root=/dev/sdb1"}}))
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionKernelCommandLine: []string{"!single"}}))
}

func TestConditionFirstBoot(t *testing.T) {
	dir := t.TempDir()
	machineID := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(machineID, []byte("8d2c1fcafb55489b9fe70f1b1d8a9b7e\n"), 0o644))

	e := NewEvaluator()
	e.MachineIDPath = machineID
	e.FirstBootPath = filepath.Join(dir, "first-boot")

	yes, no := true, false
	assert.NotEmpty(t, e.Evaluate(&unit.Common{ConditionFirstBoot: &yes}))
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionFirstBoot: &no}))

	// An uninitialized machine id means first boot.
	require.NoError(t, os.WriteFile(machineID, []byte("\n"), 0o644))
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionFirstBoot: &yes}))
}

func TestConditionNeedsUpdate(t *testing.T) {
	dir := t.TempDir()
	e := NewEvaluator()
	e.UpdateDoneDir = filepath.Join(dir, "update-done.d")

	// No stamp file at all: update needed.
	assert.Empty(t, e.Evaluate(&unit.Common{ConditionNeedsUpdate: []string{"/etc"}}))
	// Unknown path never needs an update.
	assert.NotEmpty(t, e.Evaluate(&unit.Common{ConditionNeedsUpdate: []string{"/opt"}}))
}

func TestEvaluateFirstFailureWins(t *testing.T) {
	e := NewEvaluator()
	c := &unit.Common{
		ConditionPathExists:        []string{"/definitely/not/here"},
		ConditionKernelCommandLine: []string{"nope"},
	}
	reason := e.Evaluate(c)
	assert.Contains(t, reason, "ConditionPathExists")
}

func TestVirtualizationMatch(t *testing.T) {
	e := NewEvaluator()
	detected := DetectVirtualization()
	if detected == nil {
		assert.True(t, e.virtualizationMatches("no"))
		assert.False(t, e.virtualizationMatches("yes"))
	} else {
		assert.True(t, e.virtualizationMatches("yes"))
		assert.True(t, e.virtualizationMatches(detected.Name))
	}
}

func TestCapabilityByName(t *testing.T) {
	assert.GreaterOrEqual(t, capabilityByName("CAP_NET_BIND_SERVICE"), 0)
	assert.GreaterOrEqual(t, capabilityByName("net_bind_service"), 0)
	assert.Equal(t, -1, capabilityByName("CAP_NOT_A_THING"))
}
