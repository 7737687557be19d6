package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
	"golang.org/x/time/rate"
)

// Logs prints the output of the server container of one node, selected by
// address or by replica and partition.
func Logs() lifecycle.Pipeline {
	var target *models.NodeID

	return lifecycle.Pipeline{
		Name:          NameLogs,
		SkipProvision: true,
		Establish: func(ctx context.Context, run *lifecycle.Run) error {
			node, err := resolveTarget(run)
			if err != nil {
				return err
			}
			if node == nil {
				return nil
			}
			target = node
			run.Grid = session.ConnectSubset(ctx, run.Topology, run.Engine.Dialer, run.User(), func(n models.NodeID) bool {
				return n.Replica == node.Replica && n.Partition == node.Partition
			})
			return nil
		},
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			if target == nil {
				return nil
			}
			s, err := run.Grid.Session(target.Replica, target.Partition)
			if s == nil {
				// the failure was logged when connecting
				common.Logger(ctx).WithFields(target.Fields()).WithError(err).Debug("No session to read logs from")
				return nil
			}

			// an interrupt ends the local wait only
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			err = streamLogs(ctx, s, run.Engine.Settings.ContainerName, run.Request.Follow, drivers.LogOptions{
				Stdout: run.Out(),
				Stderr: run.Out(),
			})
			if models.IsNotFound(err) {
				common.Logger(ctx).WithFields(target.Fields()).Errorf("Cannot find container %q", run.Engine.Settings.ContainerName)
				return nil
			}
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(run.Out())
				return nil
			}
			return err
		},
	}
}

// resolveTarget finds the requested node. An address missing from the
// configuration is logged and yields no node.
func resolveTarget(run *lifecycle.Run) (*models.NodeID, error) {
	t := run.Request.Logs
	if t.Address != "" {
		node, ok := run.Topology.Lookup(t.Address)
		if !ok {
			logrus.WithFields(logrus.Fields{"node": t.Address}).Error(models.ErrUnknownAddress.Error())
			return nil, nil
		}
		return &node, nil
	}
	if t.Node == nil {
		return nil, errors.New("no log target")
	}
	node, err := run.Topology.Node(t.Node[0], t.Node[1])
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// streamLogs copies the container output once, or with follow until ctx is
// done, reconnecting at most twice per second when the stream breaks.
func streamLogs(ctx context.Context, s *session.Session, name string, follow bool, opts drivers.LogOptions) error {
	opts.Follow = follow
	if !follow {
		return s.Driver.ContainerLogs(ctx, name, opts)
	}

	log := common.Logger(ctx).WithFields(s.Node.Fields())
	limiter := rate.NewLimiter(2.0, 1)
	for limiter.Wait(ctx) == nil {
		err := s.Driver.ContainerLogs(ctx, name, opts)
		if err == nil || models.IsNotFound(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("Log stream broken, reconnecting")
		opts.Since = time.Now()
	}
	return ctx.Err()
}
