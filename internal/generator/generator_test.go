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

package generator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

const sampleFstab = `
# /etc/fstab: static file system information.
UUID=12345678-1234-1234-1234-123456789abc  /      ext4   defaults          0  1
/dev/sda1        /boot     ext4   defaults           0  2
UUID=abcdef12    /home     ext4   defaults,noatime   0  2
/dev/sda2        none      swap   sw                 0  0
tmpfs            /tmp      tmpfs  defaults,noatime   0  0
server:/export   /mnt/nfs  nfs    defaults,_netdev   0  0
/dev/sdb1        /mnt/usb  ext4   noauto,user        0  0
/home/user/data  /srv/data none   bind               0  0
`

func TestParseFstab(t *testing.T) {
	entries := ParseFstab(sampleFstab)
	require.Len(t, entries, 8)

	root := entries[0]
	assert.Equal(t, "UUID=12345678-1234-1234-1234-123456789abc", root.Spec)
	assert.Equal(t, "/", root.MountPoint)
	assert.Equal(t, "ext4", root.FSType)
	assert.Equal(t, 1, root.Pass)
	assert.False(t, root.Swap())
	assert.True(t, root.Auto())
}

func TestFstabClassification(t *testing.T) {
	entries := ParseFstab(sampleFstab)
	byMount := map[string]FstabEntry{}
	for _, e := range entries {
		byMount[e.MountPoint] = e
	}

	assert.True(t, byMount["none"].Swap())
	assert.False(t, byMount["/mnt/usb"].Auto())
	assert.True(t, byMount["/mnt/nfs"].Network())
	assert.True(t, byMount["/srv/data"].Bind())
	assert.False(t, byMount["/home"].Network())
}

func TestFstabMountUnits(t *testing.T) {
	entries := ParseFstab(sampleFstab)

	root := entries[0].Mount()
	assert.Equal(t, "-.mount", root.Name())
	assert.Equal(t, "/", root.Where)
	assert.Equal(t, "ext4", root.FSType)
	assert.Empty(t, root.Options)
	assert.False(t, root.Unit.DefaultDependencies)

	var nfs, bind *unit.Mount
	for _, e := range entries {
		switch e.MountPoint {
		case "/mnt/nfs":
			nfs = e.Mount()
		case "/srv/data":
			bind = e.Mount()
		}
	}
	require.NotNil(t, nfs)
	assert.Contains(t, nfs.Unit.After, "network-online.target")
	assert.Contains(t, nfs.Unit.Wants, "network-online.target")

	require.NotNil(t, bind)
	assert.Contains(t, bind.Unit.Requires, "home-user-data.mount")
	assert.Contains(t, bind.Unit.After, "home-user-data.mount")
}

func TestFstabMountsFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fstab")
	require.NoError(t, os.WriteFile(path, []byte(sampleFstab), 0o644))

	mounts, err := FstabMounts(path)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, m := range mounts {
		names[m.Name()] = true
	}
	assert.True(t, names["-.mount"])
	assert.True(t, names["home.mount"])
	assert.True(t, names["tmp.mount"])
	assert.False(t, names["mnt-usb.mount"], "noauto entries stay out")
	assert.False(t, names["none.mount"], "swap entries stay out")
}

func TestParseCmdlineConsoles(t *testing.T) {
	consoles := ParseCmdline("ro quiet console=ttyS0,115200n8 console=tty0")
	require.Len(t, consoles, 2)

	serial := consoles[0]
	assert.Equal(t, "ttyS0", serial.TTY)
	assert.Equal(t, 115200, serial.Baud)
	assert.Equal(t, "n8", serial.Options)
	assert.True(t, serial.Serial())
	assert.False(t, serial.Virtual())

	vt := consoles[1]
	assert.Equal(t, "tty0", vt.TTY)
	assert.True(t, vt.Virtual())
	assert.Equal(t, "getty@tty0.service", vt.ServiceName())
}

func TestSerialGettyService(t *testing.T) {
	svc := Console{TTY: "ttyS0", Baud: 115200}.Service()
	assert.Equal(t, "serial-getty@ttyS0.service", svc.Name())
	assert.Equal(t, "ttyS0", svc.Instance)
	assert.Equal(t, unit.TypeIdle, svc.Type)
	assert.Equal(t, unit.RestartAlways, svc.Restart)
	assert.Contains(t, svc.ExecStart[0], "115200")
	assert.Contains(t, svc.Unit.BindsTo, "dev-ttyS0.device")
	assert.Equal(t, []string{"getty.target"}, svc.Inst.WantedBy)
}

func TestVirtualGettyService(t *testing.T) {
	svc := Console{TTY: "tty1"}.Service()
	assert.Equal(t, "getty@tty1.service", svc.Name())
	assert.Equal(t, "/dev/tty1", svc.TTYPath)
	assert.True(t, svc.TTYReset)
	assert.Contains(t, svc.ExecStart[0], "--noclear")
}

func TestDefaultGettys(t *testing.T) {
	services := DefaultGettys()
	require.Len(t, services, 6)
	assert.Equal(t, "getty@tty1.service", services[0].Name())
	assert.Equal(t, "getty@tty6.service", services[5].Name())
}

func TestGettyServicesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("console=ttyS1,9600\n"), 0o644))

	services, err := GettyServices(path)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "serial-getty@ttyS1.service", services[0].Name())
}
