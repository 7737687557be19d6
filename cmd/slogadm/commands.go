package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/slogdb/slogadm/api/commands"
	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/models"
	"github.com/urfave/cli"
)

func commonFlags(settings config.Settings) []cli.Flag {
	return []cli.Flag{
		cli.BoolFlag{
			Name:  "no-pull",
			Usage: "skip the image pulling step",
		},
		cli.StringFlag{
			Name:  "image",
			Usage: "name of the Docker image to use",
			Value: settings.Image,
		},
		cli.StringFlag{
			Name:  "user, u",
			Usage: "username on the target machines",
			Value: settings.User,
		},
	}
}

var envFlag = cli.StringSliceFlag{
	Name:  "e",
	Usage: "environment variables to pass to the container, e.g. -e GLOG_v=1 OPTS=x",
}

func genDataCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameGenData,
		Usage:     "Generate data for one or more SLOG servers",
		ArgsUsage: "<config_file>",
		Flags: append(commonFlags(settings),
			cli.IntFlag{
				Name:  "partition",
				Usage: "partition to generate data for, -1 for all",
				Value: -1,
			},
			cli.IntFlag{
				Name:  "size",
				Usage: "size of the generated data per partition",
				Value: 1,
			},
			cli.StringFlag{
				Name:  "size-unit",
				Usage: "unit of --size: gb, mb, kb or b",
				Value: "mb",
			},
			cli.IntFlag{
				Name:  "record-size",
				Usage: "size of a record in bytes",
				Value: 100,
			},
			cli.IntFlag{
				Name:  "max-jobs",
				Usage: "maximum number of generating jobs per node, 0 for unlimited",
				Value: 0,
			},
		),
		Action: runAction(engine, commands.NameGenData),
	}
}

func startCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameStart,
		Usage:     "Start an SLOG cluster",
		ArgsUsage: "<config_file>",
		Flags:     append(commonFlags(settings), envFlag),
		Action:    runAction(engine, commands.NameStart),
	}
}

func stopCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameStop,
		Usage:     "Stop an SLOG cluster",
		ArgsUsage: "<config_file>",
		Flags:     commonFlags(settings),
		Action:    runAction(engine, commands.NameStop),
	}
}

func statusCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameStatus,
		Usage:     "Show the status of an SLOG cluster",
		ArgsUsage: "<config_file>",
		Flags:     commonFlags(settings),
		Action:    runAction(engine, commands.NameStatus),
	}
}

func logsCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameLogs,
		Usage:     "Stream logs from a server",
		ArgsUsage: "<config_file>",
		Flags: append(commonFlags(settings),
			cli.StringFlag{
				Name:  "a",
				Usage: "address of the machine to stream logs from",
			},
			cli.StringFlag{
				Name:  "rp",
				Usage: "replica and partition of the machine to stream logs from, e.g. -rp 0 1",
			},
			cli.BoolFlag{
				Name:  "follow, f",
				Usage: "follow log output",
			},
		),
		Action: runAction(engine, commands.NameLogs),
	}
}

func localCmd(settings config.Settings, engine *lifecycle.Engine) cli.Command {
	return cli.Command{
		Name:      commands.NameLocal,
		Usage:     "Control a cluster that runs on the local machine",
		ArgsUsage: "<config_file>",
		Flags: append(commonFlags(settings),
			cli.BoolFlag{Name: "start", Usage: "start the local cluster"},
			cli.BoolFlag{Name: "stop", Usage: "stop the local cluster"},
			cli.BoolFlag{Name: "remove", Usage: "remove all containers of the local cluster"},
			cli.BoolFlag{Name: "status", Usage: "get status of the local cluster"},
			envFlag,
		),
		Action: runAction(engine, commands.NameLocal),
	}
}

func runAction(engine *lifecycle.Engine, name string) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		req, err := buildRequest(c, name)
		if err != nil {
			return err
		}
		pipeline, ok := commands.ByName(name)
		if !ok {
			return fmt.Errorf("unknown command %q", name)
		}

		run := pipeline.Run(context.Background(), engine, req)
		defer run.Close()
		if run.Err != nil {
			return cli.NewExitError(fmt.Sprintf("%s stopped at %q: %v", name, run.State, run.Err), 1)
		}
		return nil
	}
}

// buildRequest validates the flags of command name and turns them into a
// request.
func buildRequest(c *cli.Context, name string) (models.Request, error) {
	if c.NArg() > 1 {
		return models.Request{}, fmt.Errorf("expected a single <config_file>, got %q", []string(c.Args()))
	}
	req := models.Request{
		ConfigPath: c.Args().First(),
		Image:      c.String("image"),
		NoPull:     c.Bool("no-pull"),
		User:       c.String("user"),
	}

	switch name {
	case commands.NameStart, commands.NameLocal:
		env, err := models.ParseEnv(c.StringSlice("e"))
		if err != nil {
			return req, err
		}
		req.Env = env
	}

	switch name {
	case commands.NameGenData:
		unit := strings.ToLower(c.String("size-unit"))
		switch unit {
		case "gb", "mb", "kb", "b":
		default:
			return req, fmt.Errorf("invalid --size-unit %q", c.String("size-unit"))
		}
		req.GenData = models.GenDataParams{
			Partition:  c.Int("partition"),
			Size:       c.Int("size"),
			SizeUnit:   unit,
			RecordSize: c.Int("record-size"),
			MaxJobs:    c.Int("max-jobs"),
		}

	case commands.NameLogs:
		target, err := logTarget(c.String("a"), c.String("rp"))
		if err != nil {
			return req, err
		}
		req.Logs = target
		req.Follow = c.Bool("follow")

	case commands.NameLocal:
		action, err := localAction(c)
		if err != nil {
			return req, err
		}
		req.Local = true
		req.Action = action
	}
	return req, nil
}

func logTarget(addr, rp string) (models.LogTarget, error) {
	switch {
	case addr != "" && rp != "":
		return models.LogTarget{}, errors.New("-a and --rp are mutually exclusive")
	case addr != "":
		return models.LogTarget{Address: addr}, nil
	case rp != "":
		fields := strings.Fields(rp)
		if len(fields) != 2 {
			return models.LogTarget{}, fmt.Errorf("--rp takes two numbers, got %q", rp)
		}
		var node [2]int
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil {
				return models.LogTarget{}, fmt.Errorf("--rp takes two numbers, got %q", rp)
			}
			node[i] = n
		}
		return models.LogTarget{Node: &node}, nil
	}
	return models.LogTarget{}, errors.New("one of -a or --rp is required")
}

func localAction(c *cli.Context) (models.LocalAction, error) {
	var chosen []models.LocalAction
	for _, a := range []models.LocalAction{models.LocalStart, models.LocalStop, models.LocalRemove, models.LocalStatus} {
		if c.Bool(string(a)) {
			chosen = append(chosen, a)
		}
	}
	if len(chosen) != 1 {
		return "", errors.New("exactly one of --start, --stop, --remove or --status is required")
	}
	return chosen[0], nil
}
