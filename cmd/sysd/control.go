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
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/ipc"
	"github.com/Osso/sysd/internal/manager"
)

// controlHandler maps control-socket requests onto the manager.
func controlHandler(mgr *manager.Manager) ipc.Handler {
	return func(req ipc.Request, caller ipc.Caller) ipc.Response {
		switch req.Kind {
		case ipc.KindPing:
			return ipc.Response{Kind: ipc.RespPong}

		case ipc.KindList:
			var units []ipc.UnitInfo
			for _, u := range mgr.List() {
				if req.UnitType != "" && string(u.Kind) != req.UnitType {
					continue
				}
				units = append(units, unitInfo(u))
			}
			return ipc.Response{Kind: ipc.RespUnits, Units: units}

		case ipc.KindStart:
			if err := mgr.Start(req.Name); err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespOk}

		case ipc.KindStop:
			if err := mgr.Stop(req.Name); err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespOk}

		case ipc.KindRestart:
			if err := mgr.Restart(req.Name); err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespOk}

		case ipc.KindEnable:
			links, err := mgr.Enable(req.Name)
			if err != nil {
				return ipc.Err(err)
			}
			for _, link := range links {
				log.L.Infof("created symlink %s", link)
			}
			return ipc.Response{Kind: ipc.RespOk, Names: links}

		case ipc.KindDisable:
			links, err := mgr.Disable(req.Name)
			if err != nil {
				return ipc.Err(err)
			}
			for _, link := range links {
				log.L.Infof("removed symlink %s", link)
			}
			return ipc.Response{Kind: ipc.RespOk, Names: links}

		case ipc.KindIsEnabled:
			state, err := mgr.IsEnabled(req.Name)
			if err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespEnabled, Value: string(state)}

		case ipc.KindStatus:
			st, err := mgr.Status(req.Name)
			if err != nil {
				return ipc.Err(err)
			}
			info := ipc.UnitInfo{
				Name:    manager.Normalize(req.Name),
				Active:  string(st.Active),
				Sub:     string(st.Sub),
				MainPID: st.MainPID,
				Note:    st.Note,
			}
			if u, ok := mgr.Get(req.Name); ok {
				info.UnitType = string(u.Kind())
				info.Description = u.Common().Description
			}
			return ipc.Response{Kind: ipc.RespStatus, Status: &info}

		case ipc.KindDeps:
			deps, err := mgr.Dependencies(req.Name)
			if err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespDeps, Names: deps}

		case ipc.KindGetBootTarget:
			return ipc.Response{Kind: ipc.RespBootTarget, Value: mgr.DefaultTarget()}

		case ipc.KindBoot:
			target := mgr.DefaultTarget()
			if req.DryRun {
				plan, err := mgr.BootPlan(target)
				if err != nil {
					return ipc.Err(err)
				}
				return ipc.Response{Kind: ipc.RespBootPlan, Names: plan}
			}
			started, err := mgr.StartWithDeps(target)
			if err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespBootPlan, Names: started}

		case ipc.KindReloadUnitFiles:
			count, err := mgr.ReloadUnits()
			if err != nil {
				return ipc.Err(err)
			}
			log.L.Infof("reloaded %d units", count)
			return ipc.Response{Kind: ipc.RespOk}

		case ipc.KindSyncUnits:
			restarted, err := mgr.SyncUnits()
			if err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespBootPlan, Names: restarted}

		case ipc.KindSwitchTarget:
			stopped, err := mgr.SwitchTarget(req.Target)
			if err != nil {
				return ipc.Err(err)
			}
			return ipc.Response{Kind: ipc.RespBootPlan, Names: stopped}
		}

		log.L.Debugf("unknown request %q from pid %d", req.Kind, caller.PID)
		return ipc.Response{Kind: ipc.RespError, Message: "unknown request: " + req.Kind}
	}
}

func unitInfo(u manager.UnitStatus) ipc.UnitInfo {
	return ipc.UnitInfo{
		Name:        u.Name,
		UnitType:    string(u.Kind),
		Active:      string(u.State.Active),
		Sub:         string(u.State.Sub),
		Description: u.Description,
		MainPID:     u.State.MainPID,
		Note:        u.State.Note,
	}
}
