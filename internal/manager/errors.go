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

// State-guard and install errors, built on the errdefs taxonomy so callers
// can match with errors.Is at either level.
var (
	// ErrAlreadyActive describes a unit that is already active. The manager
	// does not return it: Start treats an already-active unit as success.
	ErrAlreadyActive = fmt.Errorf("unit already active: %w", errdefs.ErrFailedPrecondition)
	// ErrNotActive is returned when stopping a unit that is not running.
	ErrNotActive = fmt.Errorf("unit not active: %w", errdefs.ErrFailedPrecondition)
	// ErrNoInstallSection is returned by enable when nothing would be
	// linked.
	ErrNoInstallSection = fmt.Errorf("unit has no install section: %w", errdefs.ErrFailedPrecondition)
)
