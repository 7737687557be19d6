package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/drivers/mock"
	"github.com/slogdb/slogadm/api/lifecycle"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterConf = `
protocol: "tcp"
replicas: {
  addresses: "10.0.0.1"
  addresses: "10.0.0.2"
}
replicas: {
  addresses: "10.0.1.1"
  addresses: "10.0.1.2"
}
broker_port: 2021
server_port: 2023
num_partitions: 2
partition_key_num_bytes: 1
`

type cluster struct {
	engine  *lifecycle.Engine
	out     *bytes.Buffer
	mockers map[string]*mock.Mocker
	local   *mock.Mocker
	path    string
}

func newCluster(t *testing.T, down ...string) *cluster {
	t.Helper()
	settings, err := config.LoadSettings()
	require.NoError(t, err)
	settings.PullRetries = 0

	path := filepath.Join(t.TempDir(), "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte(clusterConf), 0644))

	c := &cluster{
		out:     new(bytes.Buffer),
		mockers: make(map[string]*mock.Mocker),
		local:   mock.New(),
		path:    path,
	}
	for _, addr := range []string{"10.0.0.1", "10.0.0.2", "10.0.1.1", "10.0.1.2"} {
		c.mockers[addr] = mock.New()
	}
	for _, addr := range down {
		delete(c.mockers, addr)
	}

	c.engine = &lifecycle.Engine{
		Settings: settings,
		Dialer: session.DialerFunc(func(ctx context.Context, user, addr string) (drivers.Driver, error) {
			m, ok := c.mockers[addr]
			if !ok {
				return nil, models.NewConnectionError(addr, errors.New("connection refused"))
			}
			return m, nil
		}),
		Local: func(ctx context.Context) (drivers.Driver, error) { return c.local, nil },
		Out:   c.out,
	}
	return c
}

func (c *cluster) run(t *testing.T, name string, req models.Request) *lifecycle.Run {
	t.Helper()
	p, ok := ByName(name)
	require.True(t, ok)
	req.ConfigPath = c.path
	run := p.Run(context.Background(), c.engine, req)
	require.NoError(t, run.Err)
	require.True(t, run.Complete())
	return run
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		p, ok := ByName(name)
		assert.True(t, ok, name)
		assert.Equal(t, name, p.Name)
	}
	_, ok := ByName("restart")
	assert.False(t, ok)
}

func TestStart(t *testing.T) {
	c := newCluster(t, "10.0.1.2")

	for i := 0; i < 2; i++ {
		run := c.run(t, NameStart, models.Request{Env: map[string]string{"GLOG_v": "1"}})
		require.Len(t, run.Report.Outcomes, 4)
		assert.Len(t, run.Report.Failures(), 1)
		assert.Equal(t, models.ResultUnavailable, run.Report.Outcomes[3].Result)
	}

	for addr, m := range c.mockers {
		assert.Equal(t, []string{"slog"}, m.Containers(), addr)
		ctr, _ := m.Container("slog")
		assert.Equal(t, "running", ctr.State)
		assert.Equal(t, "host", ctr.Spec.NetworkMode)
		assert.Equal(t, "ctring/slog", ctr.Spec.Image)
		assert.Equal(t, map[string]string{"GLOG_v": "1"}, ctr.Spec.Env)
		require.Len(t, ctr.Spec.Cmd, 3)
		assert.Contains(t, ctr.Spec.Cmd[2], "--address "+addr)
		assert.Contains(t, ctr.Spec.Cmd[2], "> /var/tmp/slog.conf && slog --config /var/tmp/slog.conf")
		assert.Equal(t, []string{"ctring/slog", "ctring/slog"}, m.Pulls())
	}

	ctr, _ := c.mockers["10.0.1.1"].Container("slog")
	assert.Contains(t, ctr.Spec.Cmd[2], "--replica 1 --partition 0 --data-dir /var/tmp")
}

func TestStop(t *testing.T) {
	c := newCluster(t)
	c.run(t, NameStart, models.Request{NoPull: true})
	require.NoError(t, c.mockers["10.0.0.2"].RemoveContainer(context.Background(), "slog"))

	run := c.run(t, NameStop, models.Request{})
	assert.Empty(t, run.Report.Failures())

	ctr, _ := c.mockers["10.0.0.1"].Container("slog")
	assert.Equal(t, "exited", ctr.State)
	for _, m := range c.mockers {
		assert.Empty(t, m.Pulls())
	}
}

func TestStatus(t *testing.T) {
	c := newCluster(t, "10.0.1.1")
	ctx := context.Background()
	_, err := c.mockers["10.0.0.1"].CreateContainer(ctx, drivers.ContainerSpec{Name: "slog"})
	require.NoError(t, err)
	require.NoError(t, c.mockers["10.0.0.1"].StartContainer(ctx, "slog"))
	c.mockers["10.0.1.2"].Fail(mock.OpState, errors.New("timeout"))

	c.run(t, NameStatus, models.Request{})
	assert.Equal(t, "Replica 0:\n"+
		"\tPartition 0 (10.0.0.1): running\n"+
		"\tPartition 1 (10.0.0.2): container not started\n"+
		"Replica 1:\n"+
		"\tPartition 0 (10.0.1.1): network unavailable\n"+
		"\tPartition 1 (10.0.1.2): unknown\n", c.out.String())
}

func TestGenData(t *testing.T) {
	c := newCluster(t)
	c.mockers["10.0.0.2"].SetExitCode("gen_data", 1)

	run := c.run(t, NameGenData, models.Request{GenData: models.GenDataParams{
		Partition: -1, Size: 100, SizeUnit: "MB", RecordSize: 100, MaxJobs: 8,
	}})
	require.Len(t, run.Report.Failures(), 1)
	assert.Equal(t, models.ResultNonZeroExit, run.Report.Outcomes[1].Result)
	assert.Equal(t, 1, run.Report.Outcomes[1].ExitCode)

	ctr, ok := c.mockers["10.0.0.1"].Container("gen_data")
	require.True(t, ok)
	assert.Equal(t, "exited", ctr.State)
	assert.Equal(t, "tools/gen_data.py /var/tmp --num-replicas 2 --num-partitions 2 --partition-bytes 1 "+
		"--partition -1 --size 100 --size-unit MB --record-size 100 --max-jobs 8", strings.Join(ctr.Spec.Cmd, " "))
	require.Len(t, ctr.Spec.Mounts, 1)
	assert.Equal(t, "/var/tmp", ctr.Spec.Mounts[0].Target)
}

func TestLogsByAddress(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	m := c.mockers["10.0.1.2"]
	_, err := m.CreateContainer(ctx, drivers.ContainerSpec{Name: "slog"})
	require.NoError(t, err)
	m.SetOutput("slog", "I am 10.0.1.2\n")

	run := c.run(t, NameLogs, models.Request{Logs: models.LogTarget{Address: "10.0.1.2"}})
	assert.Equal(t, "I am 10.0.1.2\n", c.out.String())
	assert.Len(t, run.Grid.Live(), 1)
}

func TestLogsByReplicaPartition(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	m := c.mockers["10.0.0.2"]
	_, err := m.CreateContainer(ctx, drivers.ContainerSpec{Name: "slog"})
	require.NoError(t, err)
	m.SetOutput("slog", "partition 1\n")

	c.run(t, NameLogs, models.Request{Logs: models.LogTarget{Node: &[2]int{0, 1}}})
	assert.Equal(t, "partition 1\n", c.out.String())
}

func TestLogsUnknownAddressIsNoop(t *testing.T) {
	c := newCluster(t)
	run := c.run(t, NameLogs, models.Request{Logs: models.LogTarget{Address: "10.9.9.9"}})
	assert.Nil(t, run.Grid)
	assert.Empty(t, c.out.String())
}

func TestLogsMissingContainer(t *testing.T) {
	c := newCluster(t)
	c.run(t, NameLogs, models.Request{Logs: models.LogTarget{Address: "10.0.0.1"}})
	assert.Empty(t, c.out.String())
}

func TestLogsOutOfRange(t *testing.T) {
	c := newCluster(t)
	run := Logs().Run(context.Background(), c.engine, models.Request{ConfigPath: c.path, Logs: models.LogTarget{Node: &[2]int{5, 0}}})
	assert.True(t, errors.Is(run.Err, models.ErrNodeOutOfRange))
}

func TestStreamLogsFollowReconnects(t *testing.T) {
	m := mock.New()
	ctx := context.Background()
	_, err := m.CreateContainer(ctx, drivers.ContainerSpec{Name: "slog"})
	require.NoError(t, err)
	m.SetOutput("slog", "line\n")
	m.Fail(mock.OpLogs, errors.New("unexpected EOF"))

	ctx, cancel := context.WithTimeout(ctx, 700*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	s := &session.Session{Node: models.NodeID{Address: "10.0.0.1"}, Driver: m}
	err = streamLogs(ctx, s, "slog", true, drivers.LogOptions{Stdout: &out})
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, "line\n", out.String())
}

func TestLocal(t *testing.T) {
	c := newCluster(t)
	env := map[string]string{"GLOG_v": "2"}

	c.run(t, NameLocal, models.Request{Local: true, Action: models.LocalStart, Env: env})
	assert.Equal(t, []string{"slog_0_0", "slog_0_1", "slog_1_0", "slog_1_1"}, c.local.Containers())
	assert.Equal(t, []string{"ctring/slog"}, c.local.Pulls())

	ctr, _ := c.local.Container("slog_0_1")
	assert.Equal(t, "172.28.5.2", ctr.IP)
	assert.Equal(t, "", ctr.Spec.NetworkMode)
	assert.Contains(t, ctr.Spec.Cmd[2], "--address 172.28.5.2")
	assert.Contains(t, ctr.Spec.Cmd[2], "172.28.5.4")
	for _, m := range c.mockers {
		assert.Empty(t, m.Containers(), "remote nodes are never contacted")
	}

	c.run(t, NameLocal, models.Request{Local: true, Action: models.LocalStop})
	c.run(t, NameLocal, models.Request{Local: true, Action: models.LocalRemove})
	assert.Empty(t, c.local.Containers())
	assert.Equal(t, []string{"slog_nw"}, c.local.Networks())

	c.run(t, NameLocal, models.Request{Local: true, Action: models.LocalStatus})
	assert.Equal(t, 4, strings.Count(c.out.String(), "container not started"))
}

func TestLocalRequiresLocalRequest(t *testing.T) {
	c := newCluster(t)
	run := Local().Run(context.Background(), c.engine, models.Request{ConfigPath: c.path, Action: models.LocalStart})
	require.Error(t, run.Err)
	assert.Equal(t, lifecycle.StateTopologyLoaded, run.State)
	assert.Empty(t, c.local.Containers())
}

func TestServerSpecQuotesConfig(t *testing.T) {
	settings, err := config.LoadSettings()
	require.NoError(t, err)

	spec := ServerSpec(settings, `protocol: "it's"`, models.NodeID{Replica: 0, Partition: 1, Address: "10.0.0.2"}, "img", nil)
	assert.Equal(t, "/bin/sh", spec.Cmd[0])
	assert.True(t, strings.HasPrefix(spec.Cmd[2], `echo 'protocol: "it'\''s"' > /var/tmp/slog.conf && `))
	assert.Equal(t, "slog", spec.Name)
}
