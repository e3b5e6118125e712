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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/containerd/log"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/busapi"
	"github.com/Osso/sysd/internal/config"
	"github.com/Osso/sysd/internal/ipc"
	"github.com/Osso/sysd/internal/loader"
	"github.com/Osso/sysd/internal/manager"
	"github.com/Osso/sysd/internal/pid1"
)

func runDaemon(c *cli.Context, forceBoot bool) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)
	setLogLevel(c.String("log-level"))

	userMode := c.Bool("user")
	isPid1 := pid1.IsPID1()
	if userMode && isPid1 {
		return fmt.Errorf("cannot run in --user mode as pid 1")
	}
	shouldBoot := forceBoot || (isPid1 && !c.Bool("no-boot"))

	if isPid1 {
		if err := pid1.Init(); err != nil {
			// Some mounts may have succeeded; keep booting.
			log.L.WithError(err).Error("pid 1 initialization incomplete")
		}
	}

	mgr := newMgr(cfg, userMode)
	if err := mgr.EnsureRuntimeDir(); err != nil {
		log.L.WithError(err).Warn("runtime directory not created")
	}
	if err := mgr.InitNotifySocket(); err != nil {
		log.L.WithError(err).Warn("notify socket unavailable, Type=notify degraded")
	}
	defer mgr.CloseNotifySocket()

	if !userMode {
		if err := mgr.OpenStamps(cfg.TimerStampsPath); err != nil {
			log.L.WithError(err).Warn("timer stamps unavailable, Persistent= degraded")
		}
		if _, err := mgr.LoadFstab("/etc/fstab"); err != nil {
			log.L.WithError(err).Warn("fstab generator failed")
		}
		if _, err := mgr.LoadGettys("/proc/cmdline"); err != nil {
			log.L.WithError(err).Warn("getty generator failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sockPath := ipc.SocketPath(userMode, os.Getuid())
	server, err := ipc.Listen(sockPath)
	if err != nil {
		return err
	}
	defer server.Close()
	log.L.Infof("listening on %s", sockPath)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ctx, controlHandler(mgr))
	})
	g.Go(func() error {
		mgr.RunBackground(ctx)
		return nil
	})
	if !userMode {
		g.Go(func() error {
			connectBus(ctx, mgr)
			return nil
		})
	}
	g.Go(func() error {
		watchUnitDirs(ctx, mgr)
		return nil
	})

	if isPid1 {
		g.Go(func() error {
			handleInitSignals(ctx, mgr)
			return nil
		})
	} else {
		// Supervised ourselves: exit cleanly on TERM/INT and tell the
		// supervisor above us when we are ready.
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, unix.SIGTERM, unix.SIGINT)
		g.Go(func() error {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
			return nil
		})
		if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
			log.L.WithError(err).Debug("sd_notify not delivered")
		}
	}

	if shouldBoot {
		g.Go(func() error {
			target := cfg.DefaultTarget
			if target == "" {
				target = mgr.DefaultTarget()
			}
			log.L.Infof("booting to %s", target)
			started, err := mgr.StartWithDeps(target)
			if err != nil {
				log.L.WithError(err).Error("boot failed")
				return nil
			}
			log.L.Infof("boot complete, %d units started", len(started))
			return nil
		})
	}

	return g.Wait()
}

func newMgr(cfg *config.Config, userMode bool) *manager.Manager {
	if userMode {
		log.L.Info("starting user service manager")
		return manager.NewUser()
	}
	if len(cfg.UnitPaths) > 0 {
		paths := append(append([]string(nil), cfg.UnitPaths...), loader.SystemPaths...)
		return manager.NewWithLoader(loader.New(paths))
	}
	return manager.New()
}

// connectBus retries the system-bus connection with backoff: the bus broker
// is itself a unit that comes up during boot.
func connectBus(ctx context.Context, mgr *manager.Manager) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	var srv *busapi.Server
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var err error
		srv, err = busapi.Connect(mgr)
		return err
	}, b)
	if err != nil {
		log.L.WithError(err).Warn("bus facade unavailable")
		return
	}
	mgr.SetBusProbe(srv)
	<-ctx.Done()
	srv.Close()
}

// watchUnitDirs notes on-disk unit changes so operators know a reload is
// due; definitions only change through reload/sync.
func watchUnitDirs(ctx context.Context, mgr *manager.Manager) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.L.WithError(err).Debug("unit directory watcher unavailable")
		return
	}
	defer watcher.Close()
	for _, dir := range mgr.Loader().Paths() {
		if err := watcher.Add(dir); err == nil {
			log.L.Debugf("watching %s", dir)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.L.Infof("unit files changed on disk (%s); reload to apply", ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.L.WithError(err).Debug("unit directory watcher")
		}
	}
}

// handleInitSignals services the PID-1 signal contract.
func handleInitSignals(ctx context.Context, mgr *manager.Manager) {
	requests := pid1.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			switch req {
			case pid1.ReapChildren:
				mgr.Reap()
				for _, e := range pid1.ReapAll() {
					mgr.ReportExit(e.PID, e.Code)
				}
			case pid1.Poweroff:
				log.L.Info("SIGTERM received, powering off")
				mgr.StopAll()
				pid1.Shutdown(pid1.ModePoweroff)
			case pid1.Reboot:
				log.L.Info("SIGINT received, rebooting")
				mgr.StopAll()
				pid1.Shutdown(pid1.ModeReboot)
			case pid1.Reload:
				count, err := mgr.ReloadUnits()
				if err != nil {
					log.L.WithError(err).Error("reload failed")
				} else {
					log.L.Infof("reloaded %d units", count)
				}
			case pid1.DumpState:
				for _, u := range mgr.List() {
					log.L.Infof("  %s: %s (%s)", u.Name, u.State.Active, u.State.Sub)
				}
			}
		}
	}
}
