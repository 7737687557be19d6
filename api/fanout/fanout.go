// Package fanout runs one unit of work per live node concurrently and
// collects the outcomes in topology order.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Unit is the work done on one node. The returned detail, if any, is shown
// for the node in the report.
type Unit func(ctx context.Context, s *session.Session) (detail string, err error)

var (
	operationKey = common.MakeKey("operation")
	resultKey    = common.MakeKey("result")

	outcomeMeasure = common.MakeMeasure("node_outcomes", "per node outcomes of an operation", "")
)

// RegisterViews registers the outcome count view.
func RegisterViews() {
	err := view.Register(
		common.CreateViewWithTags(outcomeMeasure, view.Count(), []tag.Key{operationKey, resultKey}),
	)
	if err != nil {
		logrus.WithError(err).Fatal("cannot register view")
	}
}

// ViewNames lists the views RegisterViews registers.
func ViewNames() []string {
	return []string{outcomeMeasure.Name()}
}

func record(ctx context.Context, op string, result models.Result) {
	ctx, err := tag.New(ctx,
		tag.Upsert(operationKey, op),
		tag.Upsert(resultKey, result.String()),
	)
	if err != nil {
		logrus.WithError(err).Fatalf("cannot add tags %v=%v %v=%v", operationKey, op, resultKey, result)
	}
	stats.Record(ctx, outcomeMeasure.M(0))
}

// Run dispatches unit to every live session of grid, one goroutine each,
// and waits for all of them. A failing node never cancels the others.
// Absent nodes are reported unavailable without dispatch, and nodes that
// were not selected for the run are left out.
func Run(ctx context.Context, op string, grid *session.Grid, unit Unit) *models.Report {
	topo := grid.Topology()
	nodes := topo.Nodes()
	outcomes := make([]*models.Outcome, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		s, cause := grid.Session(node.Replica, node.Partition)
		if s == nil {
			if errors.Is(cause, models.ErrNotSelected) {
				continue
			}
			o := models.Classify(node, "", cause)
			o.Result = models.ResultUnavailable
			outcomes[i] = &o
			continue
		}

		wg.Add(1)
		go func(i int, s *session.Session) {
			defer wg.Done()
			ctx, log := common.LoggerWithFields(ctx, s.Node.Fields())

			detail, err := unit(ctx, s)
			o := models.Classify(s.Node, detail, err)
			if o.Failed() {
				log.WithError(err).WithFields(logrus.Fields{"operation": op}).Error(o.Result.String())
			}
			outcomes[i] = &o
		}(i, s)
	}
	wg.Wait()

	report := &models.Report{Operation: op}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		record(ctx, op, o.Result)
		report.Outcomes = append(report.Outcomes, *o)
	}
	return report
}

// Launch describes the container a unit runs on one node.
type Launch func(s *session.Session) drivers.ContainerSpec

// FireAndCollect creates and starts a detached container and returns
// without waiting for it.
func FireAndCollect(launch Launch) Unit {
	return func(ctx context.Context, s *session.Session) (string, error) {
		spec := launch(s)
		if _, err := s.Driver.CreateContainer(ctx, spec); err != nil {
			return "", err
		}
		if err := s.Driver.StartContainer(ctx, spec.Name); err != nil {
			return "", err
		}
		common.Logger(ctx).WithFields(logrus.Fields{"container": spec.Name}).Info("Started container")
		return "", nil
	}
}

// RunAndWait creates and starts a bounded task, waits for it to exit and
// fails with a *models.ExitError on a non-zero status.
func RunAndWait(launch Launch) Unit {
	return func(ctx context.Context, s *session.Session) (string, error) {
		spec := launch(s)
		if _, err := s.Driver.CreateContainer(ctx, spec); err != nil {
			return "", err
		}
		if err := s.Driver.StartContainer(ctx, spec.Name); err != nil {
			return "", err
		}
		code, err := s.Driver.WaitContainer(ctx, spec.Name)
		if err != nil {
			return "", err
		}
		if code != 0 {
			return "", &models.ExitError{Container: spec.Name, Code: code}
		}
		common.Logger(ctx).WithFields(logrus.Fields{"container": spec.Name}).Info("Container finished")
		return "", nil
	}
}

// CleanupAll removes the container named by name on every live session
// and waits for all removals. Failures are logged by drivers.Cleanup and
// otherwise ignored.
func CleanupAll(ctx context.Context, grid *session.Grid, name func(models.NodeID) string) {
	var wg sync.WaitGroup
	for _, s := range grid.Live() {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			ctx, _ := common.LoggerWithFields(ctx, s.Node.Fields())
			_ = drivers.Cleanup(ctx, s.Driver, name(s.Node))
		}(s)
	}
	wg.Wait()
}
