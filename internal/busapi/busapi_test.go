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

package busapi

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestUnitObjectPath(t *testing.T) {
	for name, want := range map[string]dbus.ObjectPath{
		"docker.service":  "/org/freedesktop/systemd1/unit/docker_2eservice",
		"session-1.scope": "/org/freedesktop/systemd1/unit/session_2d1_2escope",
		"user@1000.service": "/org/freedesktop/systemd1/unit/" +
			"user_401000_2eservice",
	} {
		assert.Equal(t, want, UnitObjectPath(name))
	}
}

func TestUnitObjectPathIsValid(t *testing.T) {
	for _, name := range []string{"a b.service", "weird_@!.timer", "dev-ttyS0.device"} {
		assert.True(t, UnitObjectPath(name).IsValid(), name)
	}
}
