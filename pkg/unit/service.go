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
	"strconv"
	"strings"
	"time"
)

// Type determines how service readiness is established.
type Type string

const (
	TypeSimple  Type = "simple"
	TypeForking Type = "forking"
	TypeNotify  Type = "notify"
	TypeDbus    Type = "dbus"
	TypeOneshot Type = "oneshot"
	TypeIdle    Type = "idle"
)

func parseType(s string) Type {
	switch Type(strings.ToLower(s)) {
	case TypeForking:
		return TypeForking
	case TypeNotify:
		return TypeNotify
	case TypeDbus:
		return TypeDbus
	case TypeOneshot:
		return TypeOneshot
	case TypeIdle:
		return TypeIdle
	}
	return TypeSimple
}

// RestartPolicy controls automatic restarts after exit.
type RestartPolicy string

const (
	RestartNo        RestartPolicy = "no"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

func parseRestart(s string) RestartPolicy {
	switch RestartPolicy(strings.ToLower(s)) {
	case RestartOnFailure:
		return RestartOnFailure
	case RestartAlways:
		return RestartAlways
	}
	return RestartNo
}

// KillMode selects which processes receive signals on stop.
type KillMode string

const (
	KillControlGroup KillMode = "control-group"
	KillProcess      KillMode = "process"
	KillMixed        KillMode = "mixed"
	KillNone         KillMode = "none"
)

func parseKillMode(s string) KillMode {
	switch KillMode(strings.ToLower(s)) {
	case KillProcess:
		return KillProcess
	case KillMixed:
		return KillMixed
	case KillNone:
		return KillNone
	}
	return KillControlGroup
}

// NotifyAccess controls which senders' notify datagrams are accepted.
type NotifyAccess string

const (
	NotifyNone NotifyAccess = "none"
	NotifyMain NotifyAccess = "main"
	NotifyExec NotifyAccess = "exec"
	NotifyAll  NotifyAccess = "all"
)

func parseNotifyAccess(s string) NotifyAccess {
	switch NotifyAccess(strings.ToLower(s)) {
	case NotifyMain:
		return NotifyMain
	case NotifyExec:
		return NotifyExec
	case NotifyAll:
		return NotifyAll
	}
	return NotifyNone
}

// ProtectSystem levels.
type ProtectSystem string

const (
	ProtectSystemNo     ProtectSystem = "no"
	ProtectSystemYes    ProtectSystem = "yes"
	ProtectSystemFull   ProtectSystem = "full"
	ProtectSystemStrict ProtectSystem = "strict"
)

func parseProtectSystem(s string) ProtectSystem {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return ProtectSystemYes
	case "full":
		return ProtectSystemFull
	case "strict":
		return ProtectSystemStrict
	}
	return ProtectSystemNo
}

// ProtectHome levels.
type ProtectHome string

const (
	ProtectHomeNo       ProtectHome = "no"
	ProtectHomeYes      ProtectHome = "yes"
	ProtectHomeReadOnly ProtectHome = "read-only"
	ProtectHomeTmpfs    ProtectHome = "tmpfs"
)

func parseProtectHome(s string) ProtectHome {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return ProtectHomeYes
	case "read-only":
		return ProtectHomeReadOnly
	case "tmpfs":
		return ProtectHomeTmpfs
	}
	return ProtectHomeNo
}

// ProtectProc levels for /proc visibility.
type ProtectProc string

const (
	ProtectProcDefault    ProtectProc = "default"
	ProtectProcInvisible  ProtectProc = "invisible"
	ProtectProcPtraceable ProtectProc = "ptraceable"
	ProtectProcNoAccess   ProtectProc = "noaccess"
)

func parseProtectProc(s string) ProtectProc {
	switch ProtectProc(strings.ToLower(s)) {
	case ProtectProcInvisible:
		return ProtectProcInvisible
	case ProtectProcPtraceable:
		return ProtectProcPtraceable
	case ProtectProcNoAccess:
		return ProtectProcNoAccess
	}
	return ProtectProcDefault
}

// StdOutput destinations for stdout/stderr.
type StdOutput string

const (
	OutputJournal StdOutput = "journal"
	OutputInherit StdOutput = "inherit"
	OutputNull    StdOutput = "null"
)

func parseStdOutput(s string) StdOutput {
	switch strings.ToLower(s) {
	case "inherit":
		return OutputInherit
	case "null", "/dev/null":
		return OutputNull
	}
	return OutputJournal
}

// StdInput sources for stdin.
type StdInput string

const (
	InputNull     StdInput = "null"
	InputTty      StdInput = "tty"
	InputTtyForce StdInput = "tty-force"
	InputTtyFail  StdInput = "tty-fail"
)

func parseStdInput(s string) StdInput {
	switch StdInput(strings.ToLower(s)) {
	case InputTty:
		return InputTty
	case InputTtyForce:
		return InputTtyForce
	case InputTtyFail:
		return InputTtyFail
	}
	return InputNull
}

// Sandbox groups the security directives applied between spawn and exec.
type Sandbox struct {
	NoNewPrivileges      bool
	ProtectKernelModules bool
	ProtectSystem        ProtectSystem
	ProtectHome          ProtectHome
	ProtectProc          ProtectProc
	PrivateTmp           bool
	PrivateDevices       bool
	PrivateNetwork       bool

	CapabilityBoundingSet []string
	AmbientCapabilities   []string
	RestrictNamespaces    []string
	restrictNamespacesSet bool

	ReadWritePaths    []string
	ReadOnlyPaths     []string
	InaccessiblePaths []string

	SystemCallFilter []string
}

// Empty reports whether no sandbox directive is set.
func (s *Sandbox) Empty() bool {
	return !s.NoNewPrivileges && !s.ProtectKernelModules &&
		s.ProtectSystem == ProtectSystemNo && s.ProtectHome == ProtectHomeNo &&
		s.ProtectProc == ProtectProcDefault &&
		!s.PrivateTmp && !s.PrivateDevices && !s.PrivateNetwork &&
		len(s.CapabilityBoundingSet) == 0 && len(s.AmbientCapabilities) == 0 &&
		!s.restrictNamespacesSet &&
		len(s.ReadWritePaths) == 0 && len(s.ReadOnlyPaths) == 0 &&
		len(s.InaccessiblePaths) == 0 && len(s.SystemCallFilter) == 0
}

// NeedsMountNamespace reports whether any directive requires an unshared
// mount namespace.
func (s *Sandbox) NeedsMountNamespace() bool {
	return s.ProtectSystem != ProtectSystemNo || s.ProtectHome != ProtectHomeNo ||
		s.ProtectProc != ProtectProcDefault ||
		s.PrivateTmp || s.PrivateDevices ||
		len(s.ReadWritePaths) > 0 || len(s.ReadOnlyPaths) > 0 ||
		len(s.InaccessiblePaths) > 0
}

// Service is a parsed .service unit.
type Service struct {
	Base

	Type Type

	ExecStart     []string
	ExecStartPre  []string
	ExecStartPost []string
	ExecStop      []string
	ExecReload    []string

	Restart                  RestartPolicy
	RestartSec               time.Duration
	RestartPreventExitStatus []int
	StartLimitBurst          uint
	StartLimitInterval       time.Duration
	TimeoutStartSec          time.Duration
	TimeoutStopSec           time.Duration
	RemainAfterExit          bool
	WatchdogSec              time.Duration

	PIDFile string
	BusName string

	KillMode   KillMode
	KillSignal string

	User             string
	Group            string
	DynamicUser      bool
	WorkingDirectory string
	Environment      [][2]string
	EnvironmentFiles []string

	StandardOutput StdOutput
	StandardError  StdOutput
	StandardInput  StdInput
	TTYPath        string
	TTYReset       bool

	Slice     string
	MemoryMax uint64
	CPUQuota  uint32
	TasksMax  uint64

	LimitNOFILE    uint64
	OOMScoreAdjust int
	hasOOMAdjust   bool

	Sockets                []string
	NotifyAccess           NotifyAccess
	FileDescriptorStoreMax uint

	Sandbox Sandbox
}

// NewService projects a parsed file into a Service.
func NewService(name string, f *File) (*Service, error) {
	svc := &Service{
		Base:       newBase(name),
		Type:       TypeSimple,
		Restart:    RestartNo,
		RestartSec: 100 * time.Millisecond,
		KillMode:   KillControlGroup,
	}
	svc.parseCommon(f)
	svc.parseInstall(f)

	s := f.Section("Service")
	if s == nil {
		return svc, nil
	}

	if s.Has("Type") {
		svc.Type = parseType(s.Value("Type"))
	}
	svc.ExecStart = s.Values("ExecStart")
	svc.ExecStartPre = s.Values("ExecStartPre")
	svc.ExecStartPost = s.Values("ExecStartPost")
	svc.ExecStop = s.Values("ExecStop")
	svc.ExecReload = s.Values("ExecReload")

	if s.Has("Restart") {
		svc.Restart = parseRestart(s.Value("Restart"))
	}
	if s.Has("RestartSec") {
		if d, err := ParseDuration(s.Value("RestartSec")); err == nil {
			svc.RestartSec = d
		}
	}
	for _, v := range fieldsOf(s.Values("RestartPreventExitStatus")) {
		if code, err := strconv.Atoi(v); err == nil {
			svc.RestartPreventExitStatus = append(svc.RestartPreventExitStatus, code)
		}
	}
	if n, err := strconv.ParseUint(s.Value("StartLimitBurst"), 10, 32); err == nil {
		svc.StartLimitBurst = uint(n)
	}
	if s.Has("StartLimitIntervalSec") {
		if d, err := ParseDuration(s.Value("StartLimitIntervalSec")); err == nil {
			svc.StartLimitInterval = d
		}
	}
	if s.Has("TimeoutStartSec") {
		if d, err := ParseDuration(s.Value("TimeoutStartSec")); err == nil {
			svc.TimeoutStartSec = d
		}
	}
	if s.Has("TimeoutStopSec") {
		if d, err := ParseDuration(s.Value("TimeoutStopSec")); err == nil {
			svc.TimeoutStopSec = d
		}
	}
	svc.RemainAfterExit = parseBool(s.Value("RemainAfterExit"))
	if s.Has("WatchdogSec") {
		if d, err := ParseDuration(s.Value("WatchdogSec")); err == nil {
			svc.WatchdogSec = d
		}
	}

	svc.PIDFile = s.Value("PIDFile")
	svc.BusName = s.Value("BusName")
	if s.Has("KillMode") {
		svc.KillMode = parseKillMode(s.Value("KillMode"))
	}
	svc.KillSignal = s.Value("KillSignal")

	svc.User = s.Value("User")
	svc.Group = s.Value("Group")
	svc.DynamicUser = parseBool(s.Value("DynamicUser"))
	svc.WorkingDirectory = s.Value("WorkingDirectory")
	for _, raw := range s.Values("Environment") {
		if pairs, err := ParseEnvironment(raw); err == nil {
			svc.Environment = append(svc.Environment, pairs...)
		}
	}
	svc.EnvironmentFiles = s.Values("EnvironmentFile")

	if s.Has("StandardOutput") {
		svc.StandardOutput = parseStdOutput(s.Value("StandardOutput"))
	}
	if s.Has("StandardError") {
		svc.StandardError = parseStdOutput(s.Value("StandardError"))
	}
	if s.Has("StandardInput") {
		svc.StandardInput = parseStdInput(s.Value("StandardInput"))
	}
	svc.TTYPath = s.Value("TTYPath")
	svc.TTYReset = parseBool(s.Value("TTYReset"))

	svc.Slice = s.Value("Slice")
	if s.Has("MemoryMax") {
		if n, err := ParseSize(s.Value("MemoryMax")); err == nil {
			svc.MemoryMax = n
		}
	}
	if s.Has("CPUQuota") {
		if n, err := ParseCPUQuota(s.Value("CPUQuota")); err == nil {
			svc.CPUQuota = n
		}
	}
	if n, err := strconv.ParseUint(s.Value("TasksMax"), 10, 64); err == nil {
		svc.TasksMax = n
	}
	if v := s.Value("LimitNOFILE"); v != "" {
		if strings.EqualFold(v, "infinity") {
			svc.LimitNOFILE = ^uint64(0)
		} else if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			svc.LimitNOFILE = n
		}
	}
	if v := s.Value("OOMScoreAdjust"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			svc.OOMScoreAdjust = n
			svc.hasOOMAdjust = true
		}
	}

	svc.Sockets = fieldsOf(s.Values("Sockets"))
	if s.Has("NotifyAccess") {
		svc.NotifyAccess = parseNotifyAccess(s.Value("NotifyAccess"))
	} else if svc.Type == TypeNotify {
		svc.NotifyAccess = NotifyMain
	}
	if n, err := strconv.ParseUint(s.Value("FileDescriptorStoreMax"), 10, 32); err == nil {
		svc.FileDescriptorStoreMax = uint(n)
	}

	parseSandbox(&svc.Sandbox, s)
	return svc, nil
}

func parseSandbox(sb *Sandbox, s *Section) {
	sb.NoNewPrivileges = parseBool(s.Value("NoNewPrivileges"))
	sb.ProtectKernelModules = parseBool(s.Value("ProtectKernelModules"))
	sb.ProtectSystem = parseProtectSystem(s.Value("ProtectSystem"))
	sb.ProtectHome = parseProtectHome(s.Value("ProtectHome"))
	sb.ProtectProc = parseProtectProc(s.Value("ProtectProc"))
	sb.PrivateTmp = parseBool(s.Value("PrivateTmp"))
	sb.PrivateDevices = parseBool(s.Value("PrivateDevices"))
	sb.PrivateNetwork = parseBool(s.Value("PrivateNetwork"))

	sb.CapabilityBoundingSet = fieldsOf(s.Values("CapabilityBoundingSet"))
	sb.AmbientCapabilities = fieldsOf(s.Values("AmbientCapabilities"))
	if s.Has("RestrictNamespaces") {
		sb.restrictNamespacesSet = true
		v := s.Value("RestrictNamespaces")
		switch strings.ToLower(v) {
		case "yes", "true", "1", "on":
			sb.RestrictNamespaces = []string{}
		case "no", "false", "0", "off":
			sb.restrictNamespacesSet = false
		default:
			sb.RestrictNamespaces = fieldsOf(s.Values("RestrictNamespaces"))
		}
	}

	sb.ReadWritePaths = fieldsOf(s.Values("ReadWritePaths"))
	sb.ReadOnlyPaths = fieldsOf(s.Values("ReadOnlyPaths"))
	sb.InaccessiblePaths = fieldsOf(s.Values("InaccessiblePaths"))
	sb.SystemCallFilter = fieldsOf(s.Values("SystemCallFilter"))
}

func (s *Service) Kind() Kind { return KindService }

// HasOOMScoreAdjust reports whether OOMScoreAdjust= was present; the zero
// value is a valid adjustment.
func (s *Service) HasOOMScoreAdjust() bool { return s.hasOOMAdjust }

// StopTimeout returns TimeoutStopSec or the 90s default.
func (s *Service) StopTimeout() time.Duration {
	if s.TimeoutStopSec > 0 {
		return s.TimeoutStopSec
	}
	return 90 * time.Second
}
