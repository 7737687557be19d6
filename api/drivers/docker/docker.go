package docker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/fsouza/go-dockerclient"
	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/models"
)

// DockerDriver runs node processes as Docker containers on one daemon.
type DockerDriver struct {
	docker dockerClient
	closer func() error
	// host is the node address the daemon was reached through, for logs.
	host string
}

var _ drivers.Driver = (*DockerDriver)(nil)

// NewLocal connects to the daemon described by the DOCKER_* environment
// variables, or the default local socket.
func NewLocal(ctx context.Context) (*DockerDriver, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("couldn't create docker client: %w", err)
	}

	drv := newDriver(&dockerWrap{docker: client}, "localhost", nil)
	if err := drv.docker.PingWithContext(ctx); err != nil {
		return nil, fmt.Errorf("couldn't connect to docker daemon: %w", err)
	}
	return drv, nil
}

func newDriver(client dockerClient, host string, closer func() error) *DockerDriver {
	return &DockerDriver{docker: client, host: host, closer: closer}
}

// CheckVersion fails if the daemon is older than expected.
func (drv *DockerDriver) CheckVersion(ctx context.Context, expected string) error {
	version, err := drv.Version(ctx)
	if err != nil {
		return err
	}

	actual, err := semver.NewVersion(version)
	if err != nil {
		return err
	}

	wanted, err := semver.NewVersion(expected)
	if err != nil {
		return err
	}

	if actual.Compare(*wanted) < 0 {
		return fmt.Errorf("docker version is too old. Required: %s Found: %s", expected, version)
	}

	return nil
}

func (drv *DockerDriver) CreateContainer(ctx context.Context, spec drivers.ContainerSpec) (string, error) {
	log := common.Logger(ctx).WithFields(logrus.Fields{"container": spec.Name, "image": spec.Image, "host": drv.host})

	mounts := make([]docker.HostMount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, docker.HostMount{Source: m.Source, Target: m.Target, Type: "bind"})
	}

	opts := docker.CreateContainerOptions{
		Name: spec.Name,
		Config: &docker.Config{
			Image: spec.Image,
			Cmd:   spec.Cmd,
			Env:   envList(spec.Env),
		},
		HostConfig: &docker.HostConfig{
			Mounts:      mounts,
			NetworkMode: spec.NetworkMode,
		},
		Context: ctx,
	}

	c, err := drv.docker.CreateContainer(opts)
	if err != nil {
		log.WithError(err).Error("Could not create container")
		return "", translate(spec.Name, err)
	}
	log.WithFields(logrus.Fields{"id": c.ID}).Debug("Created container")
	return c.ID, nil
}

func (drv *DockerDriver) StartContainer(ctx context.Context, name string) error {
	err := drv.docker.StartContainerWithContext(name, nil, ctx)
	var already *docker.ContainerAlreadyRunning
	if errors.As(err, &already) {
		return nil
	}
	return translate(name, err)
}

func (drv *DockerDriver) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	err := drv.docker.StopContainerWithContext(name, uint(timeout/time.Second), ctx)
	var notRunning *docker.ContainerNotRunning
	if errors.As(err, &notRunning) {
		return nil
	}
	return translate(name, err)
}

func (drv *DockerDriver) RemoveContainer(ctx context.Context, name string) error {
	err := drv.docker.RemoveContainer(docker.RemoveContainerOptions{
		ID: name, Force: true, RemoveVolumes: true, Context: ctx,
	})
	return translate(name, err)
}

func (drv *DockerDriver) ContainerState(ctx context.Context, name string) (string, error) {
	c, err := drv.docker.InspectContainerWithContext(name, ctx)
	if err != nil {
		return "", translate(name, err)
	}
	if c.State.Status != "" {
		return c.State.Status, nil
	}
	return c.State.StateString(), nil
}

func (drv *DockerDriver) ContainerLogs(ctx context.Context, name string, opts drivers.LogOptions) error {
	lopts := docker.LogsOptions{
		Context:      ctx,
		Container:    name,
		OutputStream: opts.Stdout,
		ErrorStream:  opts.Stderr,
		Follow:       opts.Follow,
		Stdout:       opts.Stdout != nil,
		Stderr:       opts.Stderr != nil,
		Tail:         "all",
	}
	if !opts.Since.IsZero() {
		lopts.Since = opts.Since.Unix()
	}
	err := drv.docker.Logs(lopts)
	if ctx.Err() != nil && err != nil {
		return ctx.Err()
	}
	return translate(name, err)
}

func (drv *DockerDriver) WaitContainer(ctx context.Context, name string) (int, error) {
	code, err := drv.docker.WaitContainerWithContext(name, ctx)
	if err != nil {
		return 0, translate(name, err)
	}
	return code, nil
}

func (drv *DockerDriver) PullImage(ctx context.Context, image string) error {
	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}

	log := common.Logger(ctx).WithFields(logrus.Fields{"image": image, "host": drv.host})
	log.Info("Pulling image")

	err := drv.docker.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    ctx,
	}, docker.AuthConfiguration{})
	var derr *docker.Error
	if errors.As(err, &derr) && derr.Status >= http.StatusInternalServerError {
		return &temporaryError{err: dockerMsg(err)}
	}
	if err != nil {
		return dockerMsg(err)
	}
	return nil
}

// temporaryError marks daemon side failures worth retrying.
type temporaryError struct {
	err error
}

func (e *temporaryError) Error() string   { return e.err.Error() }
func (e *temporaryError) Unwrap() error   { return e.err }
func (e *temporaryError) Temporary() bool { return true }

func (drv *DockerDriver) FindNetwork(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	nets, err := drv.docker.FilteredListNetworks(docker.NetworkFilterOpts{"name": {name: true}})
	if err != nil {
		return "", false, dockerMsg(err)
	}
	// the name filter matches substrings
	for _, n := range nets {
		if n.Name == name {
			return n.ID, true, nil
		}
	}
	return "", false, nil
}

func (drv *DockerDriver) CreateNetwork(ctx context.Context, spec drivers.NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}
	opts := docker.CreateNetworkOptions{
		Name:           spec.Name,
		Driver:         driver,
		CheckDuplicate: true,
		Context:        ctx,
	}
	if spec.Subnet != "" {
		opts.IPAM = &docker.IPAMOptions{
			Config: []docker.IPAMConfig{{Subnet: spec.Subnet, IPRange: spec.IPRange}},
		}
	}
	n, err := drv.docker.CreateNetwork(opts)
	if err != nil {
		return "", dockerMsg(err)
	}
	return n.ID, nil
}

func (drv *DockerDriver) ConnectNetwork(ctx context.Context, network, container, ipv4 string) error {
	opts := docker.NetworkConnectionOptions{
		Container: container,
		Context:   ctx,
	}
	if ipv4 != "" {
		opts.EndpointConfig = &docker.EndpointConfig{
			IPAMConfig: &docker.EndpointIPAMConfig{IPv4Address: ipv4},
		}
	}
	return translate(container, drv.docker.ConnectNetwork(network, opts))
}

func (drv *DockerDriver) Version(ctx context.Context) (string, error) {
	env, err := drv.docker.VersionWithContext(ctx)
	if err != nil {
		return "", dockerMsg(err)
	}
	return env.Get("Version"), nil
}

func (drv *DockerDriver) Close() error {
	if drv.closer != nil {
		return drv.closer()
	}
	return nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// translate maps daemon errors about a missing container onto
// models.ErrProcessNotFound.
func translate(name string, err error) error {
	if err == nil {
		return nil
	}
	var noSuch *docker.NoSuchContainer
	if errors.As(err, &noSuch) {
		return fmt.Errorf("%w: %s", models.ErrProcessNotFound, name)
	}
	var noSuchNet *docker.NoSuchNetworkOrContainer
	if errors.As(err, &noSuchNet) {
		return fmt.Errorf("%w: %s", models.ErrProcessNotFound, name)
	}
	var derr *docker.Error
	if errors.As(err, &derr) && derr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", models.ErrProcessNotFound, name)
	}
	return dockerMsg(err)
}

// dockerMsg trims the daemon's error down to its message.
func dockerMsg(derr error) error {
	var dErr *docker.Error
	if errors.As(derr, &dErr) {
		return errors.New(dErr.Message)
	}
	return derr
}
