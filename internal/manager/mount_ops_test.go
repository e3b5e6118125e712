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
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestParseMountOptions(t *testing.T) {
	flags, data := parseMountOptions("ro,nosuid,nodev,noexec")
	assert.Equal(t, uintptr(unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC), flags)
	assert.Empty(t, data)

	// Unknown tokens join the filesystem data string.
	flags, data = parseMountOptions("mode=1777,strictatime,nosuid,size=50%")
	assert.Equal(t, uintptr(unix.MS_STRICTATIME|unix.MS_NOSUID), flags)
	assert.Equal(t, "mode=1777,size=50%", data)

	// rw and defaults carry no flags.
	flags, data = parseMountOptions("defaults")
	assert.Zero(t, flags)
	assert.Empty(t, data)

	flags, _ = parseMountOptions("bind")
	assert.Equal(t, uintptr(unix.MS_BIND), flags)

	flags, _ = parseMountOptions("remount,ro")
	assert.Equal(t, uintptr(unix.MS_REMOUNT|unix.MS_RDONLY), flags)
}
