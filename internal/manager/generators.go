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
	"os"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/generator"
	"github.com/Osso/sysd/pkg/unit"
)

// LoadFstab generates mount units from fstab and pulls them into
// local-fs.target. Units already loaded from .mount files win.
func (m *Manager) LoadFstab(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		log.L.Debugf("no fstab at %s", path)
		return 0, nil
	}
	mounts, err := generator.FstabMounts(path)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var added []string
	for _, mnt := range mounts {
		if _, ok := m.units[mnt.Name()]; ok {
			continue
		}
		m.insertLocked(mnt)
		added = append(added, mnt.Name())
	}

	if len(added) > 0 {
		if tgt, ok := m.units["local-fs.target"].(*unit.Target); ok {
			tgt.Unit.Requires = append(tgt.Unit.Requires, added...)
		} else {
			log.L.Debug("local-fs.target not loaded, fstab mounts not pulled in")
		}
	}
	log.L.Infof("generated %d mount units from %s", len(added), path)
	return len(added), nil
}

// LoadGettys generates getty services from the kernel command line,
// falling back to the virtual consoles tty1-tty6.
func (m *Manager) LoadGettys(cmdlinePath string) (int, error) {
	var services []*unit.Service
	if _, err := os.Stat(cmdlinePath); err == nil {
		services, err = generator.GettyServices(cmdlinePath)
		if err != nil {
			return 0, err
		}
	}
	if len(services) == 0 {
		services = generator.DefaultGettys()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, svc := range services {
		if _, ok := m.units[svc.Name()]; ok {
			continue
		}
		m.insertLocked(svc)
		count++
	}
	log.L.Infof("generated %d getty units", count)
	return count, nil
}
