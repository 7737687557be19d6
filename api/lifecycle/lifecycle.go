// Package lifecycle drives one operation through its phases: load the
// topology, open node sessions, provision the image, execute.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/provision"
	"github.com/slogdb/slogadm/api/session"
	"github.com/slogdb/slogadm/api/topology"
	"go.opencensus.io/trace"
)

// State is how far a run got.
type State int

const (
	StateInit State = iota
	StateTopologyLoaded
	StateSessionsEstablished
	StateImageProvisioned
	StateExecuted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateTopologyLoaded:
		return "topology loaded"
	case StateSessionsEstablished:
		return "sessions established"
	case StateImageProvisioned:
		return "image provisioned"
	case StateExecuted:
		return "executed"
	}
	return "unknown"
}

// Engine holds what every run shares: settings, the way to reach nodes and
// where results are printed.
type Engine struct {
	Settings config.Settings
	Dialer   session.Dialer
	// Local opens the container runtime of this machine.
	Local func(ctx context.Context) (drivers.Driver, error)
	Out   io.Writer
}

func (e *Engine) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// Run records one pass of a pipeline. Phases read their inputs from it and
// store their products in it.
type Run struct {
	Pipeline string
	Engine   *Engine
	Request  models.Request

	State    State
	Config   *config.Configuration
	Topology *topology.Topology
	Grid     *session.Grid
	Report   *models.Report
	Err      error
}

// Complete reports whether every phase ran.
func (r *Run) Complete() bool { return r.State == StateExecuted && r.Err == nil }

// Image is the requested image, or the default one.
func (r *Run) Image() string {
	if r.Request.Image != "" {
		return r.Request.Image
	}
	return r.Engine.Settings.Image
}

// User is the requested remote user, or the default one.
func (r *Run) User() string {
	if r.Request.User != "" {
		return r.Request.User
	}
	return r.Engine.Settings.User
}

// Out is where the operation prints its results.
func (r *Run) Out() io.Writer { return r.Engine.out() }

// Close releases the sessions opened by the run, if any.
func (r *Run) Close() {
	if r.Grid != nil {
		r.Grid.Close()
	}
}

// Phase is one step of a pipeline.
type Phase func(ctx context.Context, run *Run) error

// Pipeline is an operation expressed as its four phases. Nil phases take
// the defaults, except Execute which is required.
type Pipeline struct {
	Name          string
	BuildTopology Phase
	Establish     Phase
	Provision     Phase
	Execute       Phase
	// SkipProvision marks operations that need no image.
	SkipProvision bool
}

var ErrNoExecute = errors.New("pipeline has no execute phase")

// Run drives the phases in order. A failing phase stops the run in the
// state reached so far; sessions opened before the failure stay open
// until the caller closes the run.
func (p Pipeline) Run(ctx context.Context, eng *Engine, req models.Request) *Run {
	ctx, log := common.LoggerWithFields(ctx, logrus.Fields{"operation": p.Name})
	ctx, span := trace.StartSpan(ctx, "slogadm_"+p.Name)
	defer span.End()

	run := &Run{Pipeline: p.Name, Engine: eng, Request: req, State: StateInit}

	phases := []struct {
		phase Phase
		next  State
	}{
		{orDefault(p.BuildTopology, LoadTopology), StateTopologyLoaded},
		{orDefault(p.Establish, ConnectAll), StateSessionsEstablished},
		{p.provision(), StateImageProvisioned},
		{p.Execute, StateExecuted},
	}

	for _, ph := range phases {
		if ph.phase == nil {
			run.Err = ErrNoExecute
			break
		}
		if err := ph.phase(ctx, run); err != nil {
			run.Err = err
			break
		}
		run.State = ph.next
		log.WithFields(logrus.Fields{"state": run.State.String()}).Debug("Phase done")
	}

	if run.Err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: run.Err.Error()})
		log.WithError(run.Err).WithFields(logrus.Fields{"state": run.State.String()}).Error("Operation incomplete")
	}
	return run
}

func (p Pipeline) provision() Phase {
	if p.SkipProvision {
		return func(context.Context, *Run) error { return nil }
	}
	return orDefault(p.Provision, EnsureImage)
}

func orDefault(ph, def Phase) Phase {
	if ph != nil {
		return ph
	}
	return def
}

// LoadTopology loads the configuration named by the request and builds its
// topology. A local request gets the emulated topology instead, and the
// configuration is rewritten to carry the emulator addresses.
func LoadTopology(ctx context.Context, run *Run) error {
	cfg, err := config.Load(run.Request.ConfigPath)
	if err != nil {
		return err
	}
	if run.Request.Local {
		return loadLocalTopology(run, cfg)
	}
	topo, err := topology.Build(cfg)
	if err != nil {
		return &models.ConfigLoadError{Path: run.Request.ConfigPath, Err: err}
	}
	run.Config = cfg
	run.Topology = topo
	return nil
}

func loadLocalTopology(run *Run, cfg *config.Configuration) error {
	topo, err := topology.BuildLocal(cfg, run.Engine.Settings.IPRange)
	if err != nil {
		return err
	}
	cfg, err = cfg.WithAddresses(topo.Addresses())
	if err != nil {
		return err
	}
	run.Config = cfg
	run.Topology = topo
	return nil
}

// ConnectAll opens a session to every node with the engine's dialer.
func ConnectAll(ctx context.Context, run *Run) error {
	if run.Engine.Dialer == nil {
		return fmt.Errorf("no dialer configured")
	}
	run.Grid = session.ConnectAll(ctx, run.Topology, run.Engine.Dialer, run.User())
	return nil
}

// EnsureImage pulls the image on every live node unless the request says
// not to.
func EnsureImage(ctx context.Context, run *Run) error {
	provision.EnsureImage(ctx, run.Grid, run.Image(), run.Request.NoPull, run.Engine.Settings.PullRetryPolicy())
	return nil
}
