package session

import (
	"context"

	"github.com/slogdb/slogadm/api/config"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/drivers/docker"
)

// SSHDialer reaches each node's Docker daemon through SSH.
type SSHDialer struct {
	Settings config.Settings
}

func (d SSHDialer) Dial(ctx context.Context, user, addr string) (drivers.Driver, error) {
	s := d.Settings
	return docker.NewRemote(ctx, docker.RemoteConfig{
		User:       user,
		Address:    addr,
		Port:       s.SSHPort,
		Socket:     s.DockerSocket,
		KnownHosts: s.KnownHosts,
		Identities: s.Identities,
		Timeout:    s.ConnectTimeout,
		MinVersion: s.MinDockerVersion,
	})
}
