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

package unit

// Target is a synchronization point with no intrinsic action.
type Target struct {
	Base

	// WantsDir lists the unit names discovered in <name>.wants/
	// directories across the search paths.
	WantsDir []string
}

// NewTarget projects a parsed file into a Target. Targets carry no install
// block of their own; other units hook in through WantedBy= and .wants/.
// The .wants/ directory is filled in by the loader, which knows the search
// paths.
func NewTarget(name string, f *File) (*Target, error) {
	t := &Target{Base: newBase(name)}
	t.parseCommon(f)
	return t, nil
}

func (t *Target) Kind() Kind { return KindTarget }
