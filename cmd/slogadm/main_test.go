package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/drivers/mock"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConf = `
protocol: "tcp"
replicas: {
  addresses: "10.0.0.1"
}
broker_port: 2021
server_port: 2023
num_partitions: 1
partition_key_num_bytes: 1
`

type harness struct {
	remote *mock.Mocker
	local  *mock.Mocker
	out    *bytes.Buffer
	path   string
	run    func(args ...string) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	settings, err := config.LoadSettings()
	require.NoError(t, err)
	settings.PullRetries = 0

	h := &harness{
		remote: mock.New(),
		local:  mock.New(),
		out:    new(bytes.Buffer),
		path:   filepath.Join(t.TempDir(), "slog.conf"),
	}
	require.NoError(t, os.WriteFile(h.path, []byte(testConf), 0644))

	engine := &lifecycle.Engine{
		Settings: settings,
		Dialer: session.DialerFunc(func(ctx context.Context, user, addr string) (drivers.Driver, error) {
			return h.remote, nil
		}),
		Local: func(ctx context.Context) (drivers.Driver, error) { return h.local, nil },
		Out:   h.out,
	}
	h.run = func(args ...string) error {
		app := newApp(settings, engine)
		return app.Run(normalizeArgs(app, append([]string{"slogadm"}, args...)))
	}
	return h
}

func TestMissingConfigArgument(t *testing.T) {
	h := newHarness(t)
	err := h.run("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required arguments: <config_file>")
}

func TestStartPassesEnvAndImage(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("start", "--image", "slog:dev", "-e", "GLOG_v=1", "-e", "OPTS=a=b", h.path))

	ctr, ok := h.remote.Container("slog")
	require.True(t, ok)
	assert.Equal(t, "slog:dev", ctr.Spec.Image)
	assert.Equal(t, map[string]string{"GLOG_v": "1", "OPTS": "a=b"}, ctr.Spec.Env)
	assert.Equal(t, []string{"slog:dev"}, h.remote.Pulls())
}

func TestStartRejectsBadEnv(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("start", "-e", "NOVALUE", h.path))
	assert.Empty(t, h.remote.Containers())
}

func TestStatusPrints(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("status", h.path))
	assert.Equal(t, "Replica 0:\n\tPartition 0 (10.0.0.1): container not started\n", h.out.String())
}

func TestLogsTargetValidation(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("logs", h.path))
	assert.Error(t, h.run("logs", "-a", "10.0.0.1", "--rp", "0 0", h.path))
	assert.Error(t, h.run("logs", "--rp", "0", h.path))
	assert.Error(t, h.run("logs", "--rp", "x 0", h.path))
}

func TestLogTarget(t *testing.T) {
	target, err := logTarget("", " 1  2 ")
	require.NoError(t, err)
	require.NotNil(t, target.Node)
	assert.Equal(t, [2]int{1, 2}, *target.Node)

	target, err = logTarget("10.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", target.Address)
	assert.Nil(t, target.Node)
}

func TestLogsByAddress(t *testing.T) {
	h := newHarness(t)
	_, err := h.remote.CreateContainer(context.Background(), drivers.ContainerSpec{Name: "slog"})
	require.NoError(t, err)
	h.remote.SetOutput("slog", "hello\n")

	require.NoError(t, h.run("logs", "-a", "10.0.0.1", h.path))
	assert.Equal(t, "hello\n", h.out.String())
}

func TestLocalNeedsExactlyOneAction(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("local", h.path))
	assert.Error(t, h.run("local", "--start", "--stop", h.path))
	assert.Empty(t, h.local.Containers())
}

func TestLocalStartAndStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("local", "--start", "--no-pull", h.path))
	assert.Equal(t, []string{"slog_0_0"}, h.local.Containers())
	assert.Empty(t, h.local.Pulls())
	assert.Empty(t, h.remote.Containers())

	require.NoError(t, h.run("local", "--status", h.path))
	assert.True(t, strings.Contains(h.out.String(), "running"))
}

func TestGenDataDefaults(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("gen_data", "--size-unit", "tb", h.path))
	require.NoError(t, h.run("gen_data", "--no-pull", "--size", "5", "--size-unit", "GB", h.path))

	ctr, ok := h.remote.Container("gen_data")
	require.True(t, ok)
	assert.Equal(t, "tools/gen_data.py /var/tmp --num-replicas 1 --num-partitions 1 --partition-bytes 1 "+
		"--partition -1 --size 5 --size-unit gb --record-size 100 --max-jobs 0", strings.Join(ctr.Spec.Cmd, " "))
}

func TestStartEnvOperands(t *testing.T) {
	for _, args := range [][]string{
		{"start", "--no-pull", "CFG", "-e", "A=1", "B=2"},
		{"start", "--no-pull", "-e", "A=1", "B=2", "CFG"},
		{"start", "-e", "A=1", "B=2", "--no-pull", "CFG"},
	} {
		h := newHarness(t)
		for i, a := range args {
			if a == "CFG" {
				args[i] = h.path
			}
		}
		require.NoError(t, h.run(args...), "%v", args)

		ctr, ok := h.remote.Container("slog")
		require.True(t, ok, "%v", args)
		assert.Equal(t, map[string]string{"A": "1", "B": "2"}, ctr.Spec.Env, "%v", args)
		assert.Empty(t, h.remote.Pulls(), "%v", args)
	}
}

func TestExtraOperandsRejected(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("start", "--no-pull", h.path, "extra"))
	assert.Error(t, h.run("status", h.path, h.path))
	assert.Empty(t, h.remote.Containers())
}

func TestLogsReplicaPartitionOperands(t *testing.T) {
	for _, args := range [][]string{
		{"logs", "CFG", "-rp", "0", "0"},
		{"logs", "-rp", "0", "0", "CFG"},
		{"logs", "--rp", "0 0", "CFG"},
	} {
		h := newHarness(t)
		_, err := h.remote.CreateContainer(context.Background(), drivers.ContainerSpec{Name: "slog"})
		require.NoError(t, err)
		h.remote.SetOutput("slog", "node 0 0\n")
		for i, a := range args {
			if a == "CFG" {
				args[i] = h.path
			}
		}

		require.NoError(t, h.run(args...), "%v", args)
		assert.Equal(t, "node 0 0\n", h.out.String(), "%v", args)
	}
}

func TestNormalizeArgs(t *testing.T) {
	app := newApp(config.Settings{}, &lifecycle.Engine{})

	assert.Equal(t,
		[]string{"slogadm", "--log-level", "debug", "start", "-e", "A=1", "-e", "B=2", "--no-pull", "c.conf"},
		normalizeArgs(app, []string{"slogadm", "--log-level", "debug", "start", "c.conf", "-e", "A=1", "B=2", "--no-pull"}))
	assert.Equal(t,
		[]string{"slogadm", "logs", "-rp", "1 0", "-f", "c.conf"},
		normalizeArgs(app, []string{"slogadm", "logs", "c.conf", "-rp", "1", "0", "-f"}))
	assert.Equal(t,
		[]string{"slogadm", "gen_data", "--partition", "-1", "c.conf"},
		normalizeArgs(app, []string{"slogadm", "gen_data", "c.conf", "--partition", "-1"}))
	assert.Equal(t,
		[]string{"slogadm", "unknown", "x", "-e"},
		normalizeArgs(app, []string{"slogadm", "unknown", "x", "-e"}))
}
