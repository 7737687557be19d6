package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/drivers/mock"
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
broker_port: 2021
server_port: 2023
num_partitions: 2
`

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func testEngine(t *testing.T, mockers map[string]*mock.Mocker) *Engine {
	settings, err := config.LoadSettings()
	require.NoError(t, err)
	settings.PullRetries = 0
	return &Engine{
		Settings: settings,
		Dialer: session.DialerFunc(func(ctx context.Context, user, addr string) (drivers.Driver, error) {
			m, ok := mockers[addr]
			if !ok {
				return nil, models.NewConnectionError(addr, errors.New("unreachable"))
			}
			return m, nil
		}),
		Out: new(bytes.Buffer),
	}
}

func TestPipelineRunsPhasesInOrder(t *testing.T) {
	var order []string
	phase := func(name string) Phase {
		return func(ctx context.Context, run *Run) error {
			order = append(order, name+"@"+run.State.String())
			return nil
		}
	}
	p := Pipeline{
		Name:          "test",
		BuildTopology: phase("topology"),
		Establish:     phase("establish"),
		Provision:     phase("provision"),
		Execute:       phase("execute"),
	}

	run := p.Run(context.Background(), testEngine(t, nil), models.Request{})
	assert.True(t, run.Complete())
	assert.Equal(t, []string{
		"topology@init",
		"establish@topology loaded",
		"provision@sessions established",
		"execute@image provisioned",
	}, order)
}

func TestPipelineStopsOnFailure(t *testing.T) {
	executed := false
	boom := errors.New("boom")
	p := Pipeline{
		Name:          "test",
		BuildTopology: func(context.Context, *Run) error { return nil },
		Establish:     func(context.Context, *Run) error { return boom },
		Execute:       func(context.Context, *Run) error { executed = true; return nil },
	}

	run := p.Run(context.Background(), testEngine(t, nil), models.Request{})
	assert.False(t, run.Complete())
	assert.Equal(t, StateTopologyLoaded, run.State)
	assert.Equal(t, boom, run.Err)
	assert.False(t, executed)
}

func TestPipelineRequiresExecute(t *testing.T) {
	p := Pipeline{
		Name:          "test",
		BuildTopology: func(context.Context, *Run) error { return nil },
		Establish:     func(context.Context, *Run) error { return nil },
		SkipProvision: true,
	}
	run := p.Run(context.Background(), testEngine(t, nil), models.Request{})
	assert.Equal(t, ErrNoExecute, run.Err)
	assert.Equal(t, StateImageProvisioned, run.State)
}

func TestDefaultPhases(t *testing.T) {
	mockers := map[string]*mock.Mocker{"10.0.0.1": mock.New()}
	eng := testEngine(t, mockers)

	var live int
	p := Pipeline{
		Name: "test",
		Execute: func(ctx context.Context, run *Run) error {
			live = len(run.Grid.Live())
			return nil
		},
	}
	run := p.Run(context.Background(), eng, models.Request{ConfigPath: writeConfig(t, clusterConf), Image: "ctring/slog:dev"})
	defer run.Close()

	require.True(t, run.Complete(), "%v", run.Err)
	assert.Equal(t, 1, run.Topology.NumReplicas())
	assert.Equal(t, 2, run.Topology.NumPartitions())
	assert.Equal(t, 1, live)
	assert.Len(t, run.Grid.Failed(), 1)
	assert.Equal(t, []string{"ctring/slog:dev"}, mockers["10.0.0.1"].Pulls())
}

func TestSkipProvisionAndNoPull(t *testing.T) {
	mockers := map[string]*mock.Mocker{"10.0.0.1": mock.New(), "10.0.0.2": mock.New()}
	eng := testEngine(t, mockers)
	noop := func(context.Context, *Run) error { return nil }
	path := writeConfig(t, clusterConf)

	Pipeline{Name: "stop", Execute: noop, SkipProvision: true}.Run(context.Background(), eng, models.Request{ConfigPath: path})
	Pipeline{Name: "start", Execute: noop}.Run(context.Background(), eng, models.Request{ConfigPath: path, NoPull: true})

	for _, m := range mockers {
		assert.Empty(t, m.Pulls())
	}
}

func TestLoadTopologyFailure(t *testing.T) {
	run := Pipeline{Name: "test", Execute: func(context.Context, *Run) error { return nil }}.
		Run(context.Background(), testEngine(t, nil), models.Request{ConfigPath: filepath.Join(t.TempDir(), "missing.conf")})

	var cerr *models.ConfigLoadError
	assert.True(t, errors.As(run.Err, &cerr))
	assert.Equal(t, StateInit, run.State)

	bad := writeConfig(t, "num_partitions: 3\nreplicas: { addresses: \"a\" }\n")
	run = Pipeline{Name: "test", Execute: func(context.Context, *Run) error { return nil }}.
		Run(context.Background(), testEngine(t, nil), models.Request{ConfigPath: bad})
	assert.True(t, errors.Is(run.Err, models.ErrInvalidTopology))
}

func TestLoadTopologyLocal(t *testing.T) {
	noop := func(context.Context, *Run) error { return nil }
	run := Pipeline{Name: "local", Establish: noop, Execute: noop, SkipProvision: true}.
		Run(context.Background(), testEngine(t, nil), models.Request{ConfigPath: writeConfig(t, clusterConf), Local: true})

	require.True(t, run.Complete(), "%v", run.Err)
	assert.Equal(t, [][]string{{"172.28.5.1", "172.28.5.2"}}, run.Topology.Addresses())
	assert.Equal(t, [][]string{{"172.28.5.1", "172.28.5.2"}}, run.Config.Addresses())
}

func TestRunDefaults(t *testing.T) {
	eng := testEngine(t, nil)
	run := &Run{Engine: eng}
	assert.Equal(t, eng.Settings.Image, run.Image())
	assert.Equal(t, eng.Settings.User, run.User())

	run.Request = models.Request{Image: "other", User: "root"}
	assert.Equal(t, "other", run.Image())
	assert.Equal(t, "root", run.User())
}
