package drivers

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/models"
)

// Cleanup removes the named container if it exists. It returns nil when the
// container did not exist or was removed. Any other failure is logged and
// returned, and callers treat it as non-fatal.
func Cleanup(ctx context.Context, d Driver, name string) error {
	log := common.Logger(ctx).WithFields(logrus.Fields{"container": name})

	err := d.RemoveContainer(ctx, name)
	switch {
	case err == nil:
		log.Info("Cleaned up container")
		return nil
	case models.IsNotFound(err):
		log.Debug("No container to clean up")
		return nil
	default:
		log.WithError(err).Warn("Could not clean up container")
		return err
	}
}

// Status texts reported for containers that have no runtime state.
const (
	StatusNotStarted  = "container not started"
	StatusUnavailable = "network unavailable"
	StatusUnknown     = "unknown"
)

// Status describes the named container for status reports: its runtime
// state, StatusNotStarted when it does not exist, or StatusUnknown when
// the runtime could not tell.
func Status(ctx context.Context, d Driver, name string) string {
	state, err := d.ContainerState(ctx, name)
	switch {
	case err == nil:
		return state
	case models.IsNotFound(err):
		return StatusNotStarted
	default:
		common.Logger(ctx).WithError(err).WithFields(logrus.Fields{"container": name}).Warn("Could not get container status")
		return StatusUnknown
	}
}
