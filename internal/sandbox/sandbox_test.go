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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

func TestSpecEncodeDecode(t *testing.T) {
	spec := Spec{
		NoNewPrivileges:       true,
		ProtectSystem:         unit.ProtectSystemStrict,
		ProtectHome:           unit.ProtectHomeReadOnly,
		PrivateTmp:            true,
		CapabilityBoundingSet: []string{"~CAP_SYS_ADMIN"},
		AmbientCapabilities:   []string{"CAP_NET_BIND_SERVICE"},
		ReadOnlyPaths:         []string{"/etc/app"},
		SystemCallFilter:      []string{"@system-service"},
	}
	encoded, err := spec.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, spec, decoded)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode("not base64!!!")
	assert.Error(t, err)
}

func TestFromService(t *testing.T) {
	sb := &unit.Sandbox{
		NoNewPrivileges: true,
		PrivateNetwork:  true,
		ProtectProc:     unit.ProtectProcInvisible,
		ReadWritePaths:  []string{"/var/lib/app"},
	}
	spec := FromService(sb)
	assert.True(t, spec.NoNewPrivileges)
	assert.True(t, spec.PrivateNetwork)
	assert.Equal(t, unit.ProtectProcInvisible, spec.ProtectProc)
	assert.Equal(t, []string{"/var/lib/app"}, spec.ReadWritePaths)
}

func TestNeedsMountNamespace(t *testing.T) {
	assert.False(t, Spec{}.NeedsMountNamespace())
	assert.False(t, Spec{NoNewPrivileges: true, PrivateNetwork: true}.NeedsMountNamespace())
	assert.True(t, Spec{PrivateTmp: true}.NeedsMountNamespace())
	assert.True(t, Spec{ProtectSystem: unit.ProtectSystemYes}.NeedsMountNamespace())
	assert.True(t, Spec{ProtectHome: unit.ProtectHomeTmpfs}.NeedsMountNamespace())
	assert.True(t, Spec{ProtectProc: unit.ProtectProcInvisible}.NeedsMountNamespace())
	assert.True(t, Spec{ReadOnlyPaths: []string{"/etc"}}.NeedsMountNamespace())
}

func TestCapByName(t *testing.T) {
	c, ok := capByName("CAP_SYS_MODULE")
	require.True(t, ok)
	assert.Equal(t, "sys_module", c.String())

	_, ok = capByName("CAP_BOGUS")
	assert.False(t, ok)
}
