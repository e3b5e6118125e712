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

package cgroups

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitGroup(t *testing.T) {
	assert.Equal(t, "/system.slice/app.service", UnitGroup("", "app.service"))
	assert.Equal(t, "/system.slice/app.service", UnitGroup("system.slice", "app.service"))
	assert.Equal(t, "/user.slice/user-1000.slice/session-1.scope",
		UnitGroup("user-1000.slice", "session-1.scope"))
	assert.Equal(t, "/machine.slice/vm.service", UnitGroup("machine.slice", "vm.service"))
}
