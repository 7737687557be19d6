package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/drivers/docker"
	"github.com/slogdb/slogadm/api/fanout"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/provision"
	"github.com/slogdb/slogadm/api/session"
	"github.com/urfave/cli"
)

// Version of slogadm
var Version = "0.1.0"

func newApp(settings config.Settings, engine *lifecycle.Engine) *cli.App {
	app := cli.NewApp()
	app.Name = "slogadm"
	app.Version = Version
	app.Usage = "Controls deployment and experiment of SLOG"
	app.Description = "Runs SLOG servers as Docker containers on every node of a cluster, reached over SSH, or on this machine."

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn, error",
			Value: settings.LogLevel,
		},
		cli.StringFlag{
			Name:  "log-format",
			Usage: "log format: text or json",
			Value: settings.LogFormat,
		},
		cli.StringFlag{
			Name:  "log-dest",
			Usage: "where logs go: stderr, file:///path or a syslog url",
			Value: settings.LogDest,
		},
		cli.BoolFlag{
			Name:  "stats",
			Usage: "log Docker API and per node statistics before exiting",
		},
	}

	app.Before = func(c *cli.Context) error {
		common.SetLogDest(c.String("log-dest"), "slogadm")
		common.SetLogFormat(c.String("log-format"))
		common.SetLogLevel(c.String("log-level"))
		if c.Bool("stats") {
			registerViews()
		}
		return nil
	}
	app.After = func(c *cli.Context) error {
		if c.Bool("stats") {
			common.LogViews(context.Background(), viewNames()...)
		}
		return nil
	}

	app.CommandNotFound = func(c *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "command not found: %v\n", cmd)
	}

	app.Commands = []cli.Command{
		genDataCmd(settings, engine),
		startCmd(settings, engine),
		stopCmd(settings, engine),
		statusCmd(settings, engine),
		logsCmd(settings, engine),
		localCmd(settings, engine),
	}
	for i := range app.Commands {
		// normalizeArgs has already put the flags first
		app.Commands[i].SkipArgReorder = true
	}
	prepareCmdArgsValidation(app.Commands)

	return app
}

func registerViews() {
	docker.RegisterViews(nil, common.GenerateLogScaleHistogramBuckets(60000, 16))
	fanout.RegisterViews()
	provision.RegisterViews()
}

func viewNames() []string {
	names := append(docker.ViewNames(), fanout.ViewNames()...)
	return append(names, provision.ViewNames()...)
}

func parseArgs(c *cli.Context) []string {
	var reqArgs []string
	for _, arg := range strings.Split(c.Command.ArgsUsage, " ") {
		if !strings.HasPrefix(arg, "[") && strings.Trim(arg, " ") != "" {
			reqArgs = append(reqArgs, arg)
		}
	}
	return reqArgs
}

func prepareCmdArgsValidation(cmds []cli.Command) {
	// v1 doesn't let us validate args before the cmd.Action
	for i, cmd := range cmds {
		if cmd.Action == nil {
			continue
		}
		action := cmd.Action
		cmd.Action = func(c *cli.Context) error {
			reqArgs := parseArgs(c)
			if c.NArg() < len(reqArgs) {
				var help bytes.Buffer
				cli.HelpPrinter(&help, cli.CommandHelpTemplate, c.Command)
				return fmt.Errorf("ERROR: Missing required arguments: %s\n\n%s", strings.Join(reqArgs[c.NArg():], " "), help.String())
			}
			return cli.HandleAction(action, c)
		}
		cmds[i] = cmd
	}
}

func newEngine(settings config.Settings) *lifecycle.Engine {
	return &lifecycle.Engine{
		Settings: settings,
		Dialer:   session.SSHDialer{Settings: settings},
		Local: func(ctx context.Context) (drivers.Driver, error) {
			return docker.NewLocal(ctx)
		},
		Out: os.Stdout,
	}
}

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.WithError(err).Fatal("invalid settings")
	}

	app := newApp(settings, newEngine(settings))
	if err := app.Run(normalizeArgs(app, os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error occurred: %v, exiting...\n", err)
		os.Exit(1)
	}
}
