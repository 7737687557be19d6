// Package local emulates a cluster on this machine: one container per node
// on a private bridge network, each with its own address.
package local

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/fanout"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
)

// Emulator runs every node of a topology as a named container of one
// local runtime.
type Emulator struct {
	Driver   drivers.Driver
	Settings config.Settings
}

// ContainerName is the container that plays node.
func (e *Emulator) ContainerName(node models.NodeID) string {
	return node.ContainerName(e.Settings.ContainerName)
}

// EnsureNetwork reuses the emulator network if it exists and creates it
// otherwise.
func (e *Emulator) EnsureNetwork(ctx context.Context) error {
	log := common.Logger(ctx).WithFields(logrus.Fields{"network": e.Settings.NetworkName})

	_, ok, err := e.Driver.FindNetwork(ctx, e.Settings.NetworkName)
	if err != nil {
		return err
	}
	if ok {
		log.Info("Reused network")
		return nil
	}

	_, err = e.Driver.CreateNetwork(ctx, drivers.NetworkSpec{
		Name:    e.Settings.NetworkName,
		Driver:  "bridge",
		Subnet:  e.Settings.Subnet,
		IPRange: e.Settings.IPRange,
	})
	if err != nil {
		return err
	}
	log.Info("Created network")
	return nil
}

// Start replaces the container of every node of grid. Each container is
// connected to the network with its node address before it starts.
func (e *Emulator) Start(ctx context.Context, grid *session.Grid, launch fanout.Launch) (*models.Report, error) {
	if err := e.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	// old containers must be gone before any new one starts
	fanout.CleanupAll(ctx, grid, e.ContainerName)

	report := fanout.Run(ctx, "local start", grid, func(ctx context.Context, s *session.Session) (string, error) {
		spec := launch(s)
		spec.Name = e.ContainerName(s.Node)
		spec.NetworkMode = ""

		if _, err := s.Driver.CreateContainer(ctx, spec); err != nil {
			return "", err
		}
		if err := s.Driver.ConnectNetwork(ctx, e.Settings.NetworkName, spec.Name, s.Node.Address); err != nil {
			return "", err
		}
		if err := s.Driver.StartContainer(ctx, spec.Name); err != nil {
			return "", err
		}
		common.Logger(ctx).WithFields(logrus.Fields{"container": spec.Name}).Info("Started container")
		return "", nil
	})
	return report, nil
}

// Stop stops the container of every node. Missing containers are fine.
func (e *Emulator) Stop(ctx context.Context, grid *session.Grid) *models.Report {
	return fanout.Run(ctx, "local stop", grid, func(ctx context.Context, s *session.Session) (string, error) {
		name := e.ContainerName(s.Node)
		common.Logger(ctx).WithFields(logrus.Fields{"container": name}).Info("Stopping container")
		err := s.Driver.StopContainer(ctx, name, 0)
		if models.IsNotFound(err) {
			return "", nil
		}
		return "", err
	})
}

// Remove removes the container of every node. The network stays.
func (e *Emulator) Remove(ctx context.Context, grid *session.Grid) *models.Report {
	return fanout.Run(ctx, "local remove", grid, func(ctx context.Context, s *session.Session) (string, error) {
		_ = drivers.Cleanup(ctx, s.Driver, e.ContainerName(s.Node))
		return "", nil
	})
}

// Status reports the state of the container of every node.
func (e *Emulator) Status(ctx context.Context, grid *session.Grid) *models.Report {
	return fanout.Run(ctx, "local status", grid, func(ctx context.Context, s *session.Session) (string, error) {
		return drivers.Status(ctx, s.Driver, e.ContainerName(s.Node)), nil
	})
}
