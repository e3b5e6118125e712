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
	"fmt"

	"github.com/containerd/errdefs"
)

// Ephemeral UID range for DynamicUser= services.
const (
	dynamicUIDMin = 61184
	dynamicUIDMax = 65519
)

// dynamicUIDPool hands out ephemeral UID/GID pairs (uid == gid). UIDs are
// allocated on start and released when the unit finally leaves the active
// states without a pending auto-restart.
type dynamicUIDPool struct {
	allocated map[uint32]bool
	next      uint32
}

func newDynamicUIDPool() *dynamicUIDPool {
	return &dynamicUIDPool{
		allocated: map[uint32]bool{},
		next:      dynamicUIDMin,
	}
}

func (p *dynamicUIDPool) allocate() (uint32, error) {
	start := p.next
	uid := start
	for {
		if !p.allocated[uid] {
			p.allocated[uid] = true
			p.next = uid + 1
			if p.next > dynamicUIDMax {
				p.next = dynamicUIDMin
			}
			return uid, nil
		}
		uid++
		if uid > dynamicUIDMax {
			uid = dynamicUIDMin
		}
		if uid == start {
			return 0, fmt.Errorf("dynamic uid pool exhausted (%d-%d): %w",
				dynamicUIDMin, dynamicUIDMax, errdefs.ErrResourceExhausted)
		}
	}
}

func (p *dynamicUIDPool) release(uid uint32) {
	delete(p.allocated, uid)
}

// isDynamicUID reports whether uid falls in the ephemeral range.
func isDynamicUID(uid uint32) bool {
	return uid >= dynamicUIDMin && uid <= dynamicUIDMax
}
