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

import (
	"fmt"
	"path"
	"strings"

	"github.com/containerd/errdefs"
)

// Kind identifies the variant of a unit.
type Kind string

const (
	KindService Kind = "service"
	KindTarget  Kind = "target"
	KindMount   Kind = "mount"
	KindSocket  Kind = "socket"
	KindTimer   Kind = "timer"
	KindSlice   Kind = "slice"
	KindScope   Kind = "scope"
)

// KindOf derives the unit kind from a unit name's suffix.
func KindOf(name string) (Kind, error) {
	switch Kind(strings.TrimPrefix(path.Ext(name), ".")) {
	case KindService:
		return KindService, nil
	case KindTarget:
		return KindTarget, nil
	case KindMount:
		return KindMount, nil
	case KindSocket:
		return KindSocket, nil
	case KindTimer:
		return KindTimer, nil
	case KindSlice:
		return KindSlice, nil
	case KindScope:
		return KindScope, nil
	}
	return "", fmt.Errorf("unit %q has no recognized suffix: %w", name, errdefs.ErrInvalidArgument)
}

// Common is the [Unit] section shared by every unit kind.
type Common struct {
	Description string
	After       []string
	Before      []string
	Requires    []string
	Wants       []string
	Conflicts   []string
	BindsTo     []string

	ConditionPathExists        []string
	ConditionDirectoryNotEmpty []string
	ConditionVirtualization    []string
	ConditionCapability        []string
	ConditionKernelCommandLine []string
	ConditionSecurity          []string
	ConditionNeedsUpdate       []string
	// nil when ConditionFirstBoot= is absent.
	ConditionFirstBoot *bool

	DefaultDependencies bool
}

// Install is the [Install] section consumed by enable/disable.
type Install struct {
	WantedBy   []string
	RequiredBy []string
	Also       []string
	Alias      []string
}

// Empty reports whether the install section would create no links.
func (i Install) Empty() bool {
	return len(i.WantedBy) == 0 && len(i.RequiredBy) == 0 && len(i.Alias) == 0
}

// Unit is the sum over the six unit kinds. Cross-unit relationships are
// expressed as names and resolved by table lookup, never by references.
type Unit interface {
	Name() string
	Kind() Kind
	Common() *Common
	Install() *Install
}

// Base carries the fields every unit variant embeds.
type Base struct {
	UnitName string
	// Instance is the text between '@' and the suffix for instantiated
	// template units, empty otherwise.
	Instance string
	// Path of the file the unit was loaded from; empty for generated units.
	Path string

	Unit    Common
	Inst    Install
	ModTime int64
}

func newBase(name string) Base {
	return Base{
		UnitName: name,
		Instance: InstanceOf(name),
		Unit:     Common{DefaultDependencies: true},
	}
}

func (b *Base) Name() string      { return b.UnitName }
func (b *Base) Common() *Common   { return &b.Unit }
func (b *Base) Install() *Install { return &b.Inst }

func (b *Base) parseCommon(f *File) {
	s := f.Section("Unit")
	if s == nil {
		return
	}
	b.Unit.Description = s.Value("Description")
	b.Unit.After = s.Values("After")
	b.Unit.Before = s.Values("Before")
	b.Unit.Requires = s.Values("Requires")
	b.Unit.Wants = s.Values("Wants")
	b.Unit.Conflicts = s.Values("Conflicts")
	b.Unit.BindsTo = fieldsOf(s.Values("BindsTo"))
	b.Unit.ConditionPathExists = s.Values("ConditionPathExists")
	b.Unit.ConditionDirectoryNotEmpty = s.Values("ConditionDirectoryNotEmpty")
	b.Unit.ConditionVirtualization = s.Values("ConditionVirtualization")
	b.Unit.ConditionCapability = fieldsOf(s.Values("ConditionCapability"))
	b.Unit.ConditionKernelCommandLine = s.Values("ConditionKernelCommandLine")
	b.Unit.ConditionSecurity = s.Values("ConditionSecurity")
	b.Unit.ConditionNeedsUpdate = s.Values("ConditionNeedsUpdate")
	if s.Has("ConditionFirstBoot") {
		v := parseBool(s.Value("ConditionFirstBoot"))
		b.Unit.ConditionFirstBoot = &v
	}
	if s.Has("DefaultDependencies") {
		b.Unit.DefaultDependencies = parseBool(s.Value("DefaultDependencies"))
	}
}

func (b *Base) parseInstall(f *File) {
	s := f.Section("Install")
	if s == nil {
		return
	}
	b.Inst.WantedBy = s.Values("WantedBy")
	b.Inst.RequiredBy = s.Values("RequiredBy")
	b.Inst.Also = s.Values("Also")
	b.Inst.Alias = s.Values("Alias")
}

// fieldsOf re-splits comma-separated values on whitespace, for keys whose
// values are space-separated lists but are not in the parser's list-key set.
func fieldsOf(vals []string) []string {
	var out []string
	for _, v := range vals {
		out = append(out, strings.Fields(v)...)
	}
	return out
}

// New projects a parsed file into the typed unit matching the name's suffix.
func New(name string, f *File) (Unit, error) {
	kind, err := KindOf(name)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindService:
		return NewService(name, f)
	case KindTarget:
		return NewTarget(name, f)
	case KindMount:
		return NewMount(name, f)
	case KindSocket:
		return NewSocket(name, f)
	case KindTimer:
		return NewTimer(name, f)
	case KindSlice:
		return NewSlice(name, f)
	}
	return nil, fmt.Errorf("unit kind %q cannot be loaded from disk: %w", kind, errdefs.ErrInvalidArgument)
}
