package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/local"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/provision"
	"github.com/slogdb/slogadm/api/session"
)

// Local controls a cluster emulated on this machine. It expects a local
// request, whose topology uses addresses drawn from the emulator network.
func Local() lifecycle.Pipeline {
	return lifecycle.Pipeline{
		Name: NameLocal,
		Establish: func(ctx context.Context, run *lifecycle.Run) error {
			if !run.Request.Local {
				return errors.New("local operation needs a local request")
			}
			if run.Engine.Local == nil {
				return fmt.Errorf("no local container runtime configured")
			}
			drv, err := run.Engine.Local(ctx)
			if err != nil {
				return err
			}
			run.Grid = session.Shared(run.Topology, drv)
			return nil
		},
		Provision: func(ctx context.Context, run *lifecycle.Run) error {
			// every slot shares one runtime, so one pull is enough
			if run.Request.NoPull || run.Request.Action != models.LocalStart {
				common.Logger(ctx).Info("Skipping image pull, using the local image")
				return nil
			}
			live := run.Grid.Live()
			if len(live) == 0 {
				return nil
			}
			if err := provision.Pull(ctx, live[0], run.Image(), run.Engine.Settings.PullRetryPolicy()); err != nil {
				common.Logger(ctx).WithError(err).Error("Image pull failed")
			}
			return nil
		},
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			live := run.Grid.Live()
			if len(live) == 0 {
				return nil
			}
			emu := &local.Emulator{Driver: live[0].Driver, Settings: run.Engine.Settings}

			switch run.Request.Action {
			case models.LocalStart:
				text, err := run.Config.Text()
				if err != nil {
					return err
				}
				report, err := emu.Start(ctx, run.Grid, func(s *session.Session) drivers.ContainerSpec {
					return ServerSpec(run.Engine.Settings, text, s.Node, run.Image(), run.Request.Env)
				})
				if err != nil {
					return err
				}
				run.Report = report
				summarize(ctx, report)
			case models.LocalStop:
				run.Report = emu.Stop(ctx, run.Grid)
				summarize(ctx, run.Report)
			case models.LocalRemove:
				run.Report = emu.Remove(ctx, run.Grid)
				summarize(ctx, run.Report)
			case models.LocalStatus:
				run.Report = emu.Status(ctx, run.Grid)
				return printStatus(run)
			default:
				return fmt.Errorf("unknown local action %q", run.Request.Action)
			}
			return nil
		},
	}
}
