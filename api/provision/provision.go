// Package provision makes sure every live node has the server image.
package provision

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
)

// EnsureImage pulls image on every live session of grid concurrently and
// waits for all of them. Pull failures are logged per node and never
// returned: a node that could not pull goes on with whatever image it has.
// Transient failures are retried according to retry.
func EnsureImage(ctx context.Context, grid *session.Grid, image string, skip bool, retry common.BackOffConfig) {
	log := common.Logger(ctx).WithFields(logrus.Fields{"image": image})

	live := grid.Live()
	if skip || len(live) == 0 {
		log.Info("Skipping image pull, using the local image")
		return
	}

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := Pull(ctx, s, image, retry); err != nil {
				common.Logger(ctx).WithFields(s.Node.Fields()).WithError(err).Error("Image pull failed")
			}
		}(s)
	}
	wg.Wait()
}

// Pull pulls image on one session, retrying transient failures.
func Pull(ctx context.Context, s *session.Session, image string, retry common.BackOffConfig) error {
	log := common.Logger(ctx).WithFields(s.Node.Fields())

	start := time.Now()
	attempts := 0
	err := common.Retry(ctx, retry,
		func(err error) (bool, string) {
			return common.IsTemporary(err), err.Error()
		},
		func(reason string, delay time.Duration) {
			log.WithFields(logrus.Fields{"reason": reason, "delay": delay}).Warn("Retrying image pull")
		},
		func() error {
			attempts++
			return s.Driver.PullImage(ctx, image)
		},
	)
	recordPull(ctx, start, attempts, err)
	if err != nil {
		return &models.ImagePullError{Address: s.Node.Address, Image: image, Err: err}
	}
	log.WithFields(logrus.Fields{"image": image}).Info("Pulled image")
	return nil
}
