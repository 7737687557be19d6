// Package commands defines the operations of the tool as lifecycle
// pipelines.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/fanout"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
)

const (
	NameGenData = "gen_data"
	NameStart   = "start"
	NameStop    = "stop"
	NameStatus  = "status"
	NameLogs    = "logs"
	NameLocal   = "local"
)

// Names lists the operations in the order they are documented.
func Names() []string {
	return []string{NameGenData, NameStart, NameStop, NameStatus, NameLogs, NameLocal}
}

// ByName returns the pipeline of the named operation.
func ByName(name string) (lifecycle.Pipeline, bool) {
	switch name {
	case NameGenData:
		return GenData(), true
	case NameStart:
		return Start(), true
	case NameStop:
		return Stop(), true
	case NameStatus:
		return Status(), true
	case NameLogs:
		return Logs(), true
	case NameLocal:
		return Local(), true
	}
	return lifecycle.Pipeline{}, false
}

// GenData runs the data generation script on every node and waits for it.
func GenData() lifecycle.Pipeline {
	return lifecycle.Pipeline{
		Name: NameGenData,
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			settings := run.Engine.Settings
			name := settings.GenDataContainerName
			cmd := GenDataCommand(settings, run.Config, run.Request.GenData)

			fanout.CleanupAll(ctx, run.Grid, func(models.NodeID) string { return name })

			common.Logger(ctx).WithFields(logrus.Fields{"command": strings.Join(cmd, " ")}).Info("Running command")
			run.Report = fanout.Run(ctx, NameGenData, run.Grid, fanout.RunAndWait(func(s *session.Session) drivers.ContainerSpec {
				return drivers.ContainerSpec{
					Name:   name,
					Image:  run.Image(),
					Cmd:    cmd,
					Mounts: []drivers.Mount{dataMount(settings)},
				}
			}))

			for _, o := range run.Report.Failures() {
				if o.Result == models.ResultNonZeroExit {
					common.Logger(ctx).WithFields(o.Node.Fields()).Errorf("Check the logs of the container %q for more details", name)
				}
			}
			summarize(ctx, run.Report)
			return nil
		},
	}
}

// Start replaces the server container on every node with one running the
// current configuration.
func Start() lifecycle.Pipeline {
	return lifecycle.Pipeline{
		Name: NameStart,
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			settings := run.Engine.Settings
			text, err := run.Config.Text()
			if err != nil {
				return err
			}

			// an old server must not talk to the new ones
			fanout.CleanupAll(ctx, run.Grid, func(models.NodeID) string { return settings.ContainerName })

			run.Report = fanout.Run(ctx, NameStart, run.Grid, fanout.FireAndCollect(func(s *session.Session) drivers.ContainerSpec {
				spec := ServerSpec(settings, text, s.Node, run.Image(), run.Request.Env)
				spec.NetworkMode = "host"
				return spec
			}))
			summarize(ctx, run.Report)
			return nil
		},
	}
}

// Stop kills the server container on every node.
func Stop() lifecycle.Pipeline {
	return lifecycle.Pipeline{
		Name:          NameStop,
		SkipProvision: true,
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			name := run.Engine.Settings.ContainerName
			run.Report = fanout.Run(ctx, NameStop, run.Grid, func(ctx context.Context, s *session.Session) (string, error) {
				common.Logger(ctx).WithFields(logrus.Fields{"container": name}).Info("Stopping container")
				err := s.Driver.StopContainer(ctx, name, 0)
				if models.IsNotFound(err) {
					return "", nil
				}
				return "", err
			})
			summarize(ctx, run.Report)
			return nil
		},
	}
}

// Status prints the state of the server container on every node.
func Status() lifecycle.Pipeline {
	return lifecycle.Pipeline{
		Name:          NameStatus,
		SkipProvision: true,
		Execute: func(ctx context.Context, run *lifecycle.Run) error {
			name := run.Engine.Settings.ContainerName
			run.Report = fanout.Run(ctx, NameStatus, run.Grid, func(ctx context.Context, s *session.Session) (string, error) {
				return drivers.Status(ctx, s.Driver, name), nil
			})
			return printStatus(run)
		},
	}
}

func printStatus(run *lifecycle.Run) error {
	for i, o := range run.Report.Outcomes {
		if o.Result == models.ResultUnavailable {
			run.Report.Outcomes[i].Detail = drivers.StatusUnavailable
		}
	}
	return run.Report.Print(run.Out())
}

// ServerSpec is the server container of node. Its command writes the
// configuration into the data directory and then runs the server.
func ServerSpec(settings config.Settings, configText string, node models.NodeID, image string, env map[string]string) drivers.ContainerSpec {
	configPath := settings.ContainerConfigPath()
	server := []string{
		settings.ServerBinary,
		"--config", configPath,
		"--address", node.Address,
		"--replica", strconv.Itoa(node.Replica),
		"--partition", strconv.Itoa(node.Partition),
		"--data-dir", settings.ContainerDataDir,
	}
	script := fmt.Sprintf("echo %s > %s && %s", shellQuote(configText), configPath, strings.Join(server, " "))

	return drivers.ContainerSpec{
		Name:   settings.ContainerName,
		Image:  image,
		Cmd:    []string{"/bin/sh", "-c", script},
		Env:    env,
		Mounts: []drivers.Mount{dataMount(settings)},
	}
}

// GenDataCommand is the data generation command line for cfg.
func GenDataCommand(settings config.Settings, cfg *config.Configuration, p models.GenDataParams) []string {
	return []string{
		settings.GenDataScript, settings.ContainerDataDir,
		"--num-replicas", strconv.Itoa(cfg.NumReplicas()),
		"--num-partitions", strconv.Itoa(cfg.NumPartitions()),
		"--partition-bytes", strconv.Itoa(cfg.PartitionKeyNumBytes()),
		"--partition", strconv.Itoa(p.Partition),
		"--size", strconv.Itoa(p.Size),
		"--size-unit", p.SizeUnit,
		"--record-size", strconv.Itoa(p.RecordSize),
		"--max-jobs", strconv.Itoa(p.MaxJobs),
	}
}

func dataMount(settings config.Settings) drivers.Mount {
	return drivers.Mount{Source: settings.HostDataDir, Target: settings.ContainerDataDir}
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// summarize logs how many nodes ended in each result.
func summarize(ctx context.Context, report *models.Report) {
	fields := logrus.Fields{"nodes": len(report.Outcomes)}
	for _, o := range report.Outcomes {
		n, _ := fields[o.Result.String()].(int)
		fields[o.Result.String()] = n + 1
	}
	log := common.Logger(ctx).WithFields(fields)
	if len(report.Failures()) > 0 {
		log.Warn("Done with failures")
		return
	}
	log.Info("Done")
}
