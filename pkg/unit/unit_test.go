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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceFull(t *testing.T) {
	f := parseString(t, `
[Unit]
Description=Docker Application Container Engine
After=network-online.target docker.socket firewalld.service
Wants=network-online.target
Requires=docker.socket

[Service]
Type=notify
ExecStart=/usr/bin/dockerd -H fd://
ExecReload=/bin/kill -s HUP $MAINPID
TimeoutStartSec=0
RestartSec=2
Restart=always
MemoryMax=2G

[Install]
WantedBy=multi-user.target
`)
	svc, err := NewService("docker.service", f)
	require.NoError(t, err)

	assert.Equal(t, "Docker Application Container Engine", svc.Unit.Description)
	assert.Contains(t, svc.Unit.After, "network-online.target")
	assert.Contains(t, svc.Unit.Requires, "docker.socket")
	assert.Equal(t, TypeNotify, svc.Type)
	assert.Equal(t, RestartAlways, svc.Restart)
	assert.Equal(t, 2*time.Second, svc.RestartSec)
	assert.Equal(t, uint64(2*1024*1024*1024), svc.MemoryMax)
	assert.Contains(t, svc.Inst.WantedBy, "multi-user.target")
	// Type=notify defaults NotifyAccess to main.
	assert.Equal(t, NotifyMain, svc.NotifyAccess)
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := NewService("bare.service", parseString(t, "[Service]\nExecStart=/bin/true\n"))
	require.NoError(t, err)
	assert.Equal(t, TypeSimple, svc.Type)
	assert.Equal(t, RestartNo, svc.Restart)
	assert.Equal(t, 100*time.Millisecond, svc.RestartSec)
	assert.Equal(t, KillControlGroup, svc.KillMode)
	assert.True(t, svc.Unit.DefaultDependencies)
	assert.Equal(t, 90*time.Second, svc.StopTimeout())
}

func TestNewServiceOneshotRemainAfterExit(t *testing.T) {
	svc, err := NewService("setup.service", parseString(t, `
[Service]
Type=oneshot
ExecStart=/usr/bin/setup-something
RemainAfterExit=yes
`))
	require.NoError(t, err)
	assert.Equal(t, TypeOneshot, svc.Type)
	assert.True(t, svc.RemainAfterExit)
}

func TestNewServiceSandbox(t *testing.T) {
	svc, err := NewService("hardened.service", parseString(t, `
[Service]
ExecStart=/usr/bin/myservice
NoNewPrivileges=yes
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true
PrivateDevices=yes
PrivateNetwork=yes
ProtectKernelModules=yes
ProtectProc=invisible
CapabilityBoundingSet=CAP_NET_BIND_SERVICE CAP_DAC_OVERRIDE
AmbientCapabilities=CAP_NET_BIND_SERVICE
ReadWritePaths=/var/lib/myservice /run/myservice
ReadOnlyPaths=/etc/myservice
InaccessiblePaths=/home
SystemCallFilter=@system-service ~@privileged
`))
	require.NoError(t, err)
	sb := svc.Sandbox
	assert.True(t, sb.NoNewPrivileges)
	assert.Equal(t, ProtectSystemStrict, sb.ProtectSystem)
	assert.Equal(t, ProtectHomeReadOnly, sb.ProtectHome)
	assert.Equal(t, ProtectProcInvisible, sb.ProtectProc)
	assert.True(t, sb.PrivateTmp)
	assert.True(t, sb.PrivateNetwork)
	assert.Equal(t, []string{"CAP_NET_BIND_SERVICE", "CAP_DAC_OVERRIDE"}, sb.CapabilityBoundingSet)
	assert.Equal(t, []string{"/var/lib/myservice", "/run/myservice"}, sb.ReadWritePaths)
	assert.Equal(t, []string{"@system-service", "~@privileged"}, sb.SystemCallFilter)
	assert.True(t, sb.NeedsMountNamespace())
	assert.False(t, sb.Empty())
}

func TestNewServiceRestartLimits(t *testing.T) {
	svc, err := NewService("flappy.service", parseString(t, `
[Service]
ExecStart=/bin/false
Restart=always
RestartSec=10ms
StartLimitBurst=3
StartLimitIntervalSec=1s
RestartPreventExitStatus=42 255
`))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, svc.RestartSec)
	assert.Equal(t, uint(3), svc.StartLimitBurst)
	assert.Equal(t, time.Second, svc.StartLimitInterval)
	assert.Equal(t, []int{42, 255}, svc.RestartPreventExitStatus)
}

func TestNewServiceTTY(t *testing.T) {
	svc, err := NewService("getty@tty1.service", parseString(t, `
[Service]
Type=idle
ExecStart=/sbin/agetty --noclear %I $TERM
StandardInput=tty-force
TTYPath=/dev/%I
TTYReset=yes
`))
	require.NoError(t, err)
	assert.Equal(t, TypeIdle, svc.Type)
	assert.Equal(t, InputTtyForce, svc.StandardInput)
	assert.Equal(t, "/dev/%I", svc.TTYPath)
	assert.True(t, svc.TTYReset)
	assert.Equal(t, "tty1", svc.Instance)
}

func TestNewServiceLimits(t *testing.T) {
	svc, err := NewService("limits.service", parseString(t, `
[Service]
ExecStart=/bin/true
LimitNOFILE=65536
OOMScoreAdjust=-500
CPUQuota=50%
TasksMax=128
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), svc.LimitNOFILE)
	assert.Equal(t, -500, svc.OOMScoreAdjust)
	assert.True(t, svc.HasOOMScoreAdjust())
	assert.Equal(t, uint32(50), svc.CPUQuota)
	assert.Equal(t, uint64(128), svc.TasksMax)
}

func TestNewServiceBindsTo(t *testing.T) {
	svc, err := NewService("bound.service", parseString(t, `
[Unit]
BindsTo=dev-ttyS0.device other.service
[Service]
ExecStart=/bin/true
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-ttyS0.device", "other.service"}, svc.Unit.BindsTo)
}

func TestInstanceHelpers(t *testing.T) {
	assert.Equal(t, "bar", InstanceOf("foo@bar.service"))
	assert.Equal(t, "tty1", InstanceOf("getty@tty1.service"))
	assert.Equal(t, "", InstanceOf("foo@.service"))
	assert.Equal(t, "", InstanceOf("foo.service"))
	assert.Equal(t, "bar", InstanceOf("foo@bar"))

	assert.Equal(t, "foo@.service", TemplateOf("foo@bar.service"))
	assert.Equal(t, "getty@.service", TemplateOf("getty@tty1.service"))
	assert.Equal(t, "foo@.service", TemplateOf("foo@.service"))
	assert.Equal(t, "", TemplateOf("foo.service"))
}

func TestSpecifiers(t *testing.T) {
	got := Specifiers("/sbin/agetty --noclear %I $TERM", "getty@tty1.service", "tty1")
	assert.Equal(t, "/sbin/agetty --noclear tty1 $TERM", got)

	assert.Equal(t, "getty@tty1.service", Specifiers("%n", "getty@tty1.service", "tty1"))
	assert.Equal(t, "getty", Specifiers("%p", "getty@tty1.service", "tty1"))
	assert.Equal(t, "100%", Specifiers("100%%", "x.service", ""))
	assert.Equal(t, "%z", Specifiers("%z", "x.service", ""))
}

func TestNewMount(t *testing.T) {
	m, err := NewMount("tmp.mount", parseString(t, `
[Unit]
Description=Temporary Directory /tmp
DefaultDependencies=no
Conflicts=umount.target
Before=local-fs.target umount.target
After=swap.target

[Mount]
What=tmpfs
Where=/tmp
Type=tmpfs
Options=mode=1777,strictatime,nosuid,nodev
`))
	require.NoError(t, err)
	assert.False(t, m.Unit.DefaultDependencies)
	assert.Equal(t, "tmpfs", m.What)
	assert.Equal(t, "/tmp", m.Where)
	assert.Equal(t, "tmpfs", m.FSType)
	assert.Equal(t, "mode=1777,strictatime,nosuid,nodev", m.Options)
	assert.Equal(t, uint32(0o755), m.DirectoryMode)
}

func TestMountWhereFromName(t *testing.T) {
	m, err := NewMount("var-lib-docker.mount", parseString(t, "[Mount]\nWhat=tmpfs\nType=tmpfs\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/docker", m.Where)
}

func TestMountPointFromName(t *testing.T) {
	assert.Equal(t, "/", MountPointFromName("-.mount"))
	assert.Equal(t, "/dev/hugepages", MountPointFromName("dev-hugepages.mount"))
	assert.Equal(t, "/tmp", MountPointFromName("tmp.mount"))
	assert.Equal(t, "/sys/kernel/debug", MountPointFromName("sys-kernel-debug.mount"))
	assert.Equal(t, "/opt/my-data", MountPointFromName(`opt-my\-data.mount`))
}

func TestNameFromMountPoint(t *testing.T) {
	assert.Equal(t, "-.mount", NameFromMountPoint("/"))
	assert.Equal(t, "dev-hugepages.mount", NameFromMountPoint("/dev/hugepages"))
	assert.Equal(t, "tmp.mount", NameFromMountPoint("/tmp"))
}

func TestNewSocket(t *testing.T) {
	sk, err := NewSocket("docker.socket", parseString(t, `
[Unit]
Description=Docker Socket for the API

[Socket]
ListenStream=/run/docker.sock
SocketMode=0660
SocketUser=root
SocketGroup=docker

[Install]
WantedBy=sockets.target
`))
	require.NoError(t, err)
	require.Len(t, sk.Listeners, 1)
	assert.Equal(t, ListenStream, sk.Listeners[0].Kind)
	assert.Equal(t, "/run/docker.sock", sk.Listeners[0].Address)
	assert.Equal(t, uint32(0o660), sk.SocketMode)
	assert.Equal(t, "docker", sk.SocketGroup)
	assert.Equal(t, "docker.service", sk.ServiceName())
}

func TestNewSocketFIFOAndService(t *testing.T) {
	sk, err := NewSocket("dm-event.socket", parseString(t, `
[Socket]
ListenFIFO=/run/dmeventd-server
ListenFIFO=/run/dmeventd-client
SocketMode=0600
RemoveOnStop=true
Service=dmeventd.service
`))
	require.NoError(t, err)
	require.Len(t, sk.Listeners, 2)
	assert.Equal(t, ListenFIFO, sk.Listeners[0].Kind)
	assert.True(t, sk.RemoveOnStop)
	assert.Equal(t, "dmeventd.service", sk.ServiceName())
}

func TestNewTimer(t *testing.T) {
	tm, err := NewTimer("fstrim.timer", parseString(t, `
[Timer]
OnCalendar=weekly
AccuracySec=1h
Persistent=true
RandomizedDelaySec=100min
`))
	require.NoError(t, err)
	require.Len(t, tm.OnCalendar, 1)
	assert.Equal(t, CalendarNamed, tm.OnCalendar[0].Kind)
	assert.Equal(t, "weekly", tm.OnCalendar[0].Text)
	assert.Equal(t, time.Hour, tm.AccuracySec)
	assert.Equal(t, 100*time.Minute, tm.RandomizedDelaySec)
	assert.True(t, tm.Persistent)
	assert.True(t, tm.Realtime())
	assert.False(t, tm.Monotonic())
	assert.Equal(t, "fstrim.service", tm.ServiceName())
}

func TestNewTimerMonotonic(t *testing.T) {
	tm, err := NewTimer("clean.timer", parseString(t, `
[Timer]
OnBootSec=15min
OnUnitActiveSec=1d
Unit=cleanup.service
`))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, tm.OnBootSec)
	assert.Equal(t, 24*time.Hour, tm.OnUnitActiveSec)
	assert.True(t, tm.Monotonic())
	assert.True(t, tm.Repeating())
	assert.Equal(t, "cleanup.service", tm.ServiceName())
}

func TestParseCalendar(t *testing.T) {
	assert.Equal(t, CalendarNamed, ParseCalendar("daily").Kind)
	assert.Equal(t, CalendarNamed, ParseCalendar("Weekly").Kind)
	assert.Equal(t, CalendarDayOfWeek, ParseCalendar("Sat").Kind)

	spec := ParseCalendar("4:10")
	assert.Equal(t, CalendarTime, spec.Kind)
	assert.Equal(t, 4, spec.Hour)
	assert.Equal(t, 10, spec.Minute)
	assert.Equal(t, 0, spec.Second)

	assert.Equal(t, CalendarExpr, ParseCalendar("*-*-* *:00:00").Kind)
}

func TestSliceCgroupPath(t *testing.T) {
	for _, tc := range []struct {
		name, want string
	}{
		{"system.slice", "system.slice"},
		{"user.slice", "user.slice"},
		{"user-1000.slice", "user.slice/user-1000.slice"},
		{"system-sysd-cryptsetup.slice", "system.slice/system-sysd.slice/system-sysd-cryptsetup.slice"},
		{"-.slice", ""},
	} {
		assert.Equal(t, tc.want, SliceCgroupPath(tc.name), tc.name)
	}
}

func TestKindOf(t *testing.T) {
	for name, want := range map[string]Kind{
		"a.service": KindService,
		"b.target":  KindTarget,
		"c.mount":   KindMount,
		"d.socket":  KindSocket,
		"e.timer":   KindTimer,
		"f.slice":   KindSlice,
	} {
		got, err := KindOf(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := KindOf("noext")
	assert.Error(t, err)
}

func TestParseDurationForms(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"5s":    5 * time.Second,
		"100ms": 100 * time.Millisecond,
		"2min":  2 * time.Minute,
		"5sec":  5 * time.Second,
		"1h":    time.Hour,
		"1d":    24 * time.Hour,
		"1w":    7 * 24 * time.Hour,
		"1week": 7 * 24 * time.Hour,
		"30":    30 * time.Second,
		"0":     0,
	} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "invalid", "5x"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestParseSizeForms(t *testing.T) {
	for in, want := range map[string]uint64{
		"1G":      1 << 30,
		"512M":    512 << 20,
		"1024K":   1 << 20,
		"1048576": 1 << 20,
	} {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSize("junk")
	assert.Error(t, err)
}

func TestParseCPUQuotaForms(t *testing.T) {
	got, err := ParseCPUQuota("50%")
	require.NoError(t, err)
	assert.Equal(t, uint32(50), got)

	got, err = ParseCPUQuota("200%")
	require.NoError(t, err)
	assert.Equal(t, uint32(200), got)

	_, err = ParseCPUQuota("100")
	assert.Error(t, err)
}
