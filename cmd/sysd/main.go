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

// sysd is the init and service supervision daemon. It loads unit files,
// resolves their dependency graph and supervises the resulting processes.
// Running as PID 1 it also mounts the essential filesystems, reaps orphans
// and performs orderly shutdown.
package main

import (
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/Osso/sysd/internal/manager"
	"github.com/Osso/sysd/internal/sandbox"
	"github.com/Osso/sysd/pkg/version"
)

func main() {
	// The sandbox shim must not pass through CLI parsing: it runs
	// post-fork with the target argv verbatim.
	if len(os.Args) > 1 && os.Args[1] == manager.ShimCommand {
		runShim(os.Args[2:])
		return
	}

	app := &cli.App{
		Name:    "sysd",
		Usage:   "init and service supervision daemon",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "daemon configuration file",
				Value: "/etc/sysd/config.toml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
			&cli.BoolFlag{
				Name:  "user",
				Usage: "run as a per-user service manager",
			},
			&cli.BoolFlag{
				Name:  "no-boot",
				Usage: "do not start the default target (PID 1 only)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "boot",
				Usage: "start the daemon and bring up the default target",
				Action: func(c *cli.Context) error {
					return runDaemon(c, true)
				},
			},
		},
		Action: func(c *cli.Context) error {
			return runDaemon(c, false)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sysd: %v\n", err)
		os.Exit(1)
	}
}

// runShim applies the sandbox spec from the environment and execs the
// target. Any failure is fatal to this child only.
func runShim(argv []string) {
	// Strip the "--" separator the supervisor inserts.
	if len(argv) > 0 && argv[0] == "--" {
		argv = argv[1:]
	}
	spec, err := sandbox.Decode(os.Getenv(sandbox.SpecEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysd sandbox-exec: %v\n", err)
		os.Exit(127)
	}
	os.Unsetenv(sandbox.SpecEnv)
	if err := sandbox.Run(spec, argv); err != nil {
		fmt.Fprintf(os.Stderr, "sysd sandbox-exec: %v\n", err)
		os.Exit(127)
	}
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.L.WithError(err).Warnf("bad log level %q", level)
	}
}

