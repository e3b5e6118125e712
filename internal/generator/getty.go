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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Osso/sysd/pkg/unit"
)

// Console is one console= kernel parameter.
type Console struct {
	TTY  string
	Baud int
	// Options is the trailing parity/bits suffix, e.g. "n8".
	Options string
}

var serialPrefixes = []string{"ttyS", "ttyUSB", "ttyAMA", "ttyO", "ttymxc", "ttyPS"}

// Serial reports whether the console is a serial line.
func (c Console) Serial() bool {
	for _, p := range serialPrefixes {
		if strings.HasPrefix(c.TTY, p) {
			return true
		}
	}
	return false
}

// Virtual reports whether the console is a virtual terminal.
func (c Console) Virtual() bool {
	rest, ok := strings.CutPrefix(c.TTY, "tty")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// ServiceName returns the getty unit name for the console.
func (c Console) ServiceName() string {
	if c.Serial() {
		return fmt.Sprintf("serial-getty@%s.service", c.TTY)
	}
	return fmt.Sprintf("getty@%s.service", c.TTY)
}

// Service builds the getty service for the console.
func (c Console) Service() *unit.Service {
	svc := &unit.Service{
		Type:           unit.TypeIdle,
		Restart:        unit.RestartAlways,
		KillMode:       unit.KillControlGroup,
		TTYPath:        "/dev/" + c.TTY,
		TTYReset:       true,
		StandardInput:  unit.InputTty,
		StandardOutput: unit.OutputInherit,
	}
	svc.UnitName = c.ServiceName()
	svc.Instance = unit.InstanceOf(svc.UnitName)
	svc.Unit.DefaultDependencies = true
	svc.Unit.Description = "Getty on " + c.TTY
	svc.Unit.After = []string{"plymouth-quit-wait.service"}

	if c.Serial() {
		device := fmt.Sprintf("dev-%s.device", c.TTY)
		svc.Unit.After = append(svc.Unit.After, device)
		svc.Unit.BindsTo = append(svc.Unit.BindsTo, device)
		baud := "115200,57600,38400,9600"
		if c.Baud > 0 {
			baud = strconv.Itoa(c.Baud)
		}
		svc.ExecStart = []string{fmt.Sprintf("/sbin/agetty --keep-baud %s %s $TERM", baud, c.TTY)}
	} else {
		svc.ExecStart = []string{fmt.Sprintf("/sbin/agetty --noclear %s $TERM", c.TTY)}
	}

	svc.Inst.WantedBy = []string{"getty.target"}
	return svc
}

// ParseCmdline extracts the console= parameters from a kernel command
// line.
func ParseCmdline(cmdline string) []Console {
	var consoles []Console
	for _, word := range strings.Fields(cmdline) {
		value, ok := strings.CutPrefix(word, "console=")
		if !ok || value == "" {
			continue
		}
		consoles = append(consoles, parseConsole(value))
	}
	return consoles
}

// parseConsole splits "ttyS0,115200n8" into device, baud and options.
func parseConsole(value string) Console {
	tty, rest, _ := strings.Cut(value, ",")
	c := Console{TTY: tty}
	if rest != "" {
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits > 0 {
			c.Baud, _ = strconv.Atoi(rest[:digits])
		}
		if digits < len(rest) {
			c.Options = rest[digits:]
		}
	}
	return c
}

// GettyServices reads a kernel command line file and returns getty services
// for its consoles.
func GettyServices(cmdlinePath string) ([]*unit.Service, error) {
	data, err := os.ReadFile(cmdlinePath)
	if err != nil {
		return nil, err
	}
	var services []*unit.Service
	for _, c := range ParseCmdline(string(data)) {
		services = append(services, c.Service())
	}
	return services, nil
}

// DefaultGettys returns getty services for tty1 through tty6, used when no
// console= parameter is present.
func DefaultGettys() []*unit.Service {
	services := make([]*unit.Service, 0, 6)
	for n := 1; n <= 6; n++ {
		c := Console{TTY: fmt.Sprintf("tty%d", n)}
		services = append(services, c.Service())
	}
	return services
}
