package docker

import (
	"context"
	"strconv"
	"time"

	"github.com/fsouza/go-dockerclient"
	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
)

type dockerClient interface {
	// Each of these match github.com/fsouza/go-dockerclient methods directly
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	StopContainerWithContext(id string, timeout uint, ctx context.Context) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	InspectContainerWithContext(id string, ctx context.Context) (*docker.Container, error)
	WaitContainerWithContext(id string, ctx context.Context) (int, error)
	Logs(opts docker.LogsOptions) error

	PullImage(opts docker.PullImageOptions, auth docker.AuthConfiguration) error

	FilteredListNetworks(opts docker.NetworkFilterOpts) ([]docker.Network, error)
	CreateNetwork(opts docker.CreateNetworkOptions) (*docker.Network, error)
	ConnectNetwork(id string, opts docker.NetworkConnectionOptions) error

	VersionWithContext(ctx context.Context) (*docker.Env, error)
	PingWithContext(ctx context.Context) error
}

type dockerWrap struct {
	docker *docker.Client
}

var (
	apiNameKey    = common.MakeKey("api_name")
	apiStatusKey  = common.MakeKey("api_status")
	exitStatusKey = common.MakeKey("exit_status")

	dockerExitMeasure = common.MakeMeasure("docker_exits", "docker exit counts", "")

	// WARNING: this metric reports total latency per *wrapper* call, so a
	// followed log stream counts for as long as it is followed.
	dockerLatencyMeasure = common.MakeMeasure("docker_api_latency", "Docker wrapper latency", "msecs")
)

// record the exit status of a waited container
func recordExit(ctx context.Context, apiName string, code int) {
	ctx, err := tag.New(ctx,
		tag.Upsert(apiNameKey, apiName),
		tag.Upsert(exitStatusKey, strconv.Itoa(code)),
	)
	if err != nil {
		logrus.WithError(err).Fatalf("cannot add tags %v=%v %v=%v", apiNameKey, apiName, exitStatusKey, code)
	}
	stats.Record(ctx, dockerExitMeasure.M(0))
}

// Create a span/tracker with required context tags
func makeTracker(ctx context.Context, name string) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, err := tag.New(ctx, tag.Upsert(apiNameKey, name))
	if err != nil {
		logrus.WithError(err).Fatalf("cannot add tag %v=%v", apiNameKey, name)
	}

	// It would have been nice to pull the latency (end-start) elapsed time
	// from Spans but this is hidden from us, so we have to call time.Now()
	// twice ourselves.
	ctx, span := trace.StartSpan(ctx, name)
	start := time.Now()

	return ctx, func(err error) {

		status := "ok"
		if err != nil {
			if err == context.Canceled {
				status = "canceled"
			} else if err == context.DeadlineExceeded {
				status = "timeout"
			} else if derr, ok := err.(*docker.Error); ok {
				status = strconv.FormatInt(int64(derr.Status), 10)
			} else {
				status = "error"
			}
		}

		ctx, err := tag.New(ctx, tag.Upsert(apiStatusKey, status))
		if err != nil {
			logrus.WithError(err).Fatalf("cannot add tag %v=%v", apiStatusKey, status)
		}

		stats.Record(ctx, dockerLatencyMeasure.M(int64(time.Since(start)/time.Millisecond)))
		span.End()
	}
}

// RegisterViews creates and registers views with provided tag keys
func RegisterViews(tagKeys []string, latencyDist []float64) {

	defaultTags := []tag.Key{apiNameKey, apiStatusKey}
	exitTags := []tag.Key{apiNameKey, exitStatusKey}

	// add extra tags if not already in default tags for req/resp
	for _, key := range tagKeys {
		if key != "api_name" && key != "api_status" {
			defaultTags = append(defaultTags, common.MakeKey(key))
		}
		if key != "api_name" && key != "exit_status" {
			exitTags = append(exitTags, common.MakeKey(key))
		}
	}

	err := view.Register(
		common.CreateViewWithTags(dockerExitMeasure, view.Count(), exitTags),
		common.CreateViewWithTags(dockerLatencyMeasure, view.Distribution(latencyDist...), defaultTags),
	)
	if err != nil {
		logrus.WithError(err).Fatal("cannot register view")
	}
}

// ViewNames lists the views RegisterViews registers, for reporting.
func ViewNames() []string {
	return []string{dockerExitMeasure.Name(), dockerLatencyMeasure.Name()}
}

func (d *dockerWrap) CreateContainer(opts docker.CreateContainerOptions) (c *docker.Container, err error) {
	ctx, closer := makeTracker(opts.Context, "docker_create_container")
	defer func() { closer(err) }()
	opts.Context = ctx
	c, err = d.docker.CreateContainer(opts)
	return c, err
}

func (d *dockerWrap) StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) (err error) {
	ctx, closer := makeTracker(ctx, "docker_start_container")
	defer func() { closer(err) }()
	err = d.docker.StartContainerWithContext(id, hostConfig, ctx)
	return err
}

func (d *dockerWrap) StopContainerWithContext(id string, timeout uint, ctx context.Context) (err error) {
	ctx, closer := makeTracker(ctx, "docker_stop_container")
	defer func() { closer(err) }()
	err = d.docker.StopContainerWithContext(id, timeout, ctx)
	return err
}

func (d *dockerWrap) RemoveContainer(opts docker.RemoveContainerOptions) (err error) {
	ctx, closer := makeTracker(opts.Context, "docker_remove_container")
	defer func() { closer(err) }()
	opts.Context = ctx
	err = d.docker.RemoveContainer(opts)
	return err
}

func (d *dockerWrap) InspectContainerWithContext(id string, ctx context.Context) (c *docker.Container, err error) {
	ctx, closer := makeTracker(ctx, "docker_inspect_container")
	defer func() { closer(err) }()
	c, err = d.docker.InspectContainerWithContext(id, ctx)
	return c, err
}

func (d *dockerWrap) WaitContainerWithContext(id string, ctx context.Context) (code int, err error) {
	ctx, closer := makeTracker(ctx, "docker_wait_container")
	defer func() { closer(err) }()
	code, err = d.docker.WaitContainerWithContext(id, ctx)
	if err == nil {
		recordExit(ctx, "docker_wait_container", code)
	}
	return code, err
}

func (d *dockerWrap) Logs(opts docker.LogsOptions) (err error) {
	ctx, closer := makeTracker(opts.Context, "docker_logs")
	defer func() { closer(err) }()
	opts.Context = ctx
	err = d.docker.Logs(opts)
	return err
}

func (d *dockerWrap) PullImage(opts docker.PullImageOptions, auth docker.AuthConfiguration) (err error) {
	ctx, closer := makeTracker(opts.Context, "docker_pull_image")
	defer func() { closer(err) }()
	opts.Context = ctx
	err = d.docker.PullImage(opts, auth)
	return err
}

func (d *dockerWrap) FilteredListNetworks(opts docker.NetworkFilterOpts) (nets []docker.Network, err error) {
	_, closer := makeTracker(context.Background(), "docker_list_networks")
	defer func() { closer(err) }()
	nets, err = d.docker.FilteredListNetworks(opts)
	return nets, err
}

func (d *dockerWrap) CreateNetwork(opts docker.CreateNetworkOptions) (n *docker.Network, err error) {
	ctx, closer := makeTracker(opts.Context, "docker_create_network")
	defer func() { closer(err) }()
	opts.Context = ctx
	n, err = d.docker.CreateNetwork(opts)
	return n, err
}

func (d *dockerWrap) ConnectNetwork(id string, opts docker.NetworkConnectionOptions) (err error) {
	ctx, closer := makeTracker(opts.Context, "docker_connect_network")
	defer func() { closer(err) }()
	opts.Context = ctx
	err = d.docker.ConnectNetwork(id, opts)
	return err
}

func (d *dockerWrap) VersionWithContext(ctx context.Context) (env *docker.Env, err error) {
	ctx, closer := makeTracker(ctx, "docker_version")
	defer func() { closer(err) }()
	env, err = d.docker.VersionWithContext(ctx)
	return env, err
}

func (d *dockerWrap) PingWithContext(ctx context.Context) (err error) {
	ctx, closer := makeTracker(ctx, "docker_ping")
	defer func() { closer(err) }()
	err = d.docker.PingWithContext(ctx)
	return err
}
