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

// Package pid1 covers the duties of running as process 1: mounting the
// essential virtual filesystems, reaping orphans, fielding control signals
// and executing orderly shutdown.
package pid1

import (
	"os"

	"github.com/containerd/log"
)

// IsPID1 reports whether this process is the init process.
func IsPID1() bool {
	return os.Getpid() == 1
}

// Init prepares the early boot environment. Call once, before anything
// else, when running as PID 1. The first mount that fails stops the sequence
// and its error is returned; mounts made before it stay in place.
func Init() error {
	if !IsPID1() {
		log.L.Debugf("not pid 1 (pid %d), skipping init setup", os.Getpid())
		return nil
	}
	log.L.Info("running as pid 1, mounting essential filesystems")
	return MountEssential()
}
