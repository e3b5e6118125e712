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
	"github.com/containerd/log"

	"github.com/Osso/sysd/pkg/unit"
)

// startSlice ensures the slice's cgroup directory exists. Slices carry no
// process; they are active as soon as the directory is in place.
func (m *Manager) startSlice(s *unit.Slice, st *State) error {
	name := s.Name()
	st.setStarting()

	if m.cg != nil {
		group, err := m.cg.CreateSlice(name)
		if err != nil {
			log.L.WithError(err).Warnf("%s: cgroup not created", name)
		} else {
			m.cgroupPaths[name] = group
		}
	}

	st.setRunning(0)
	log.L.Infof("%s reached", name)
	return nil
}

// stopSlice marks the slice inactive. The cgroup directory is left in
// place: it may still hold member units and vanishes once empty.
func (m *Manager) stopSlice(s *unit.Slice, st *State) error {
	st.setStopping()
	delete(m.cgroupPaths, s.Name())
	st.setStopped(0)
	log.L.Infof("stopped %s", s.Name())
	return nil
}
