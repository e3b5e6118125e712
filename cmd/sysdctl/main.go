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

// sysdctl is the control tool for the sysd daemon.
package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Osso/sysd/internal/ipc"
	"github.com/Osso/sysd/pkg/version"
)

// errDisabled marks the is-enabled "disabled" result, which exits 1
// without an error message.
var errDisabled = errors.New("disabled")

func main() {
	app := &cli.App{
		Name:    "sysdctl",
		Usage:   "control the sysd daemon",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "user",
				Usage: "talk to the per-user manager",
			},
		},
		Commands: []*cli.Command{
			listCommand,
			simpleCommand("start", "Start a unit", ipc.KindStart),
			simpleCommand("stop", "Stop a unit", ipc.KindStop),
			simpleCommand("restart", "Restart a unit", ipc.KindRestart),
			enableCommand,
			disableCommand,
			isEnabledCommand,
			statusCommand,
			depsCommand,
			defaultTargetCommand,
			bootCommand,
			simpleNoArgCommand("reload", "Reload unit files from disk", ipc.KindReloadUnitFiles),
			syncCommand,
			switchTargetCommand,
			pingCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errDisabled) {
			fmt.Fprintf(os.Stderr, "sysdctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func call(c *cli.Context, req ipc.Request) (ipc.Response, error) {
	path := ipc.SocketPath(c.Bool("user"), os.Getuid())
	resp, err := ipc.Call(path, req)
	if err != nil {
		return resp, err
	}
	if resp.Kind == ipc.RespError {
		return resp, errors.New(resp.Message)
	}
	return resp, nil
}

func unitArg(c *cli.Context) (string, error) {
	name := c.Args().First()
	if name == "" {
		return "", errors.New("unit name required")
	}
	return name, nil
}

func simpleCommand(name, usage, kind string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "UNIT",
		Action: func(c *cli.Context) error {
			unit, err := unitArg(c)
			if err != nil {
				return err
			}
			_, err = call(c, ipc.Request{Kind: kind, Name: unit})
			return err
		},
	}
}

func simpleNoArgCommand(name, usage, kind string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			_, err := call(c, ipc.Request{Kind: kind})
			return err
		},
	}
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List loaded units",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "type",
			Usage: "only show units of this type",
		},
	},
	Action: func(c *cli.Context) error {
		resp, err := call(c, ipc.Request{
			Kind:     ipc.KindList,
			User:     c.Bool("user"),
			UnitType: c.String("type"),
		})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tTYPE\tACTIVE\tSUB\tDESCRIPTION")
		for _, u := range resp.Units {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.UnitType, u.Active, u.Sub, u.Description)
		}
		return w.Flush()
	},
}

var enableCommand = &cli.Command{
	Name:      "enable",
	Usage:     "Enable a unit to start at boot",
	ArgsUsage: "UNIT",
	Action: func(c *cli.Context) error {
		unit, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindEnable, Name: unit})
		if err != nil {
			return err
		}
		for _, link := range resp.Names {
			fmt.Printf("created %s\n", link)
		}
		return nil
	},
}

var disableCommand = &cli.Command{
	Name:      "disable",
	Usage:     "Disable a unit",
	ArgsUsage: "UNIT",
	Action: func(c *cli.Context) error {
		unit, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindDisable, Name: unit})
		if err != nil {
			return err
		}
		for _, link := range resp.Names {
			fmt.Printf("removed %s\n", link)
		}
		return nil
	},
}

var isEnabledCommand = &cli.Command{
	Name:      "is-enabled",
	Usage:     "Report whether a unit is enabled",
	ArgsUsage: "UNIT",
	Action: func(c *cli.Context) error {
		unit, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindIsEnabled, Name: unit})
		if err != nil {
			return err
		}
		fmt.Println(resp.Value)
		if resp.Value == "disabled" {
			return errDisabled
		}
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:      "status",
	Usage:     "Show a unit's status",
	ArgsUsage: "UNIT",
	Action: func(c *cli.Context) error {
		unit, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindStatus, Name: unit})
		if err != nil {
			return err
		}
		s := resp.Status
		fmt.Printf("%s", s.Name)
		if s.Description != "" {
			fmt.Printf(" - %s", s.Description)
		}
		fmt.Printf("\n   Active: %s (%s)\n", s.Active, s.Sub)
		if s.MainPID != 0 {
			fmt.Printf(" Main PID: %d\n", s.MainPID)
		}
		if s.Note != "" {
			fmt.Printf("     Note: %s\n", s.Note)
		}
		return nil
	},
}

var depsCommand = &cli.Command{
	Name:      "deps",
	Usage:     "List a unit's dependencies",
	ArgsUsage: "UNIT",
	Action: func(c *cli.Context) error {
		unit, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindDeps, Name: unit})
		if err != nil {
			return err
		}
		for _, dep := range resp.Names {
			fmt.Println(dep)
		}
		return nil
	},
}

var defaultTargetCommand = &cli.Command{
	Name:  "default",
	Usage: "Show the default boot target",
	Action: func(c *cli.Context) error {
		resp, err := call(c, ipc.Request{Kind: ipc.KindGetBootTarget})
		if err != nil {
			return err
		}
		fmt.Println(resp.Value)
		return nil
	},
}

var bootCommand = &cli.Command{
	Name:  "boot",
	Usage: "Start the default target and its dependencies",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "print the boot plan without starting anything",
		},
	},
	Action: func(c *cli.Context) error {
		resp, err := call(c, ipc.Request{Kind: ipc.KindBoot, DryRun: c.Bool("dry-run")})
		if err != nil {
			return err
		}
		for _, name := range resp.Names {
			fmt.Println(name)
		}
		return nil
	},
}

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "Reload unit files and restart changed units",
	Action: func(c *cli.Context) error {
		resp, err := call(c, ipc.Request{Kind: ipc.KindSyncUnits})
		if err != nil {
			return err
		}
		if len(resp.Names) == 0 {
			fmt.Println("all units in sync")
			return nil
		}
		for _, name := range resp.Names {
			fmt.Printf("restarted %s\n", name)
		}
		return nil
	},
}

var switchTargetCommand = &cli.Command{
	Name:      "switch-target",
	Usage:     "Switch to another target, stopping units it does not need",
	ArgsUsage: "TARGET",
	Action: func(c *cli.Context) error {
		target, err := unitArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, ipc.Request{Kind: ipc.KindSwitchTarget, Target: target})
		if err != nil {
			return err
		}
		for _, name := range resp.Names {
			fmt.Printf("stopped %s\n", name)
		}
		return nil
	},
}

var pingCommand = &cli.Command{
	Name:  "ping",
	Usage: "Check that the daemon is responding",
	Action: func(c *cli.Context) error {
		resp, err := call(c, ipc.Request{Kind: ipc.KindPing})
		if err != nil {
			return err
		}
		fmt.Println(resp.Kind)
		return nil
	},
}
