package docker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsouza/go-dockerclient"
	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteConfig describes how to reach the Docker daemon of one node.
type RemoteConfig struct {
	User    string
	Address string
	Port    int
	// Socket is the daemon's unix socket path on the node.
	Socket string

	// KnownHosts is checked when it exists. Otherwise host keys are
	// accepted with a warning.
	KnownHosts string
	// Identities are private key files. Empty means the usual
	// ~/.ssh/id_* files.
	Identities []string

	Timeout    time.Duration
	MinVersion string
}

var defaultIdentities = []string{"id_rsa", "id_ecdsa", "id_ed25519"}

// NewRemote opens an SSH connection to the node and tunnels the Docker API
// through it. Errors wrap models.ErrAuthenticationRequired or
// models.ErrConnection.
func NewRemote(ctx context.Context, cfg RemoteConfig) (*DockerDriver, error) {
	log := common.Logger(ctx).WithFields(logrus.Fields{"node": cfg.Address, "user": cfg.User})

	signers, closeAgent := loadSigners(log, cfg.Identities)
	defer closeAgent()
	if len(signers) == 0 {
		return nil, models.NewAuthError(cfg.Address, errors.New("no usable identity in ssh agent or identity files"))
	}

	hostKeys, err := hostKeyCallback(log, cfg.KnownHosts)
	if err != nil {
		return nil, models.NewConnectionError(cfg.Address, err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}

	client, err := dialSSH(ctx, net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)), sshConfig)
	if err != nil {
		if isSSHAuthFailure(err) {
			return nil, models.NewAuthError(cfg.Address, err)
		}
		return nil, models.NewConnectionError(cfg.Address, err)
	}

	dc, err := newTunneledClient(func(ctx context.Context) (net.Conn, error) {
		return client.Dial("unix", cfg.Socket)
	})
	if err != nil {
		client.Close()
		return nil, models.NewConnectionError(cfg.Address, err)
	}

	drv := newDriver(&dockerWrap{docker: dc}, cfg.Address, client.Close)
	if cfg.MinVersion != "" {
		if err := drv.CheckVersion(ctx, cfg.MinVersion); err != nil {
			client.Close()
			return nil, models.NewConnectionError(cfg.Address, err)
		}
	}
	return drv, nil
}

func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// isSSHAuthFailure reports whether the handshake failed because every key
// was rejected. x/crypto/ssh exposes no typed error for this; the match is
// on the text of its client auth error, "ssh: unable to authenticate,
// attempted methods [...], no supported methods remain".
func isSSHAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func loadSigners(log logrus.FieldLogger, identities []string) ([]ssh.Signer, func()) {
	var signers []ssh.Signer
	closer := func() {}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.WithError(err).Debug("ssh agent unavailable")
		} else {
			closer = func() { conn.Close() }
			agentSigners, err := agent.NewClient(conn).Signers()
			if err != nil {
				log.WithError(err).Debug("cannot list ssh agent keys")
			}
			signers = append(signers, agentSigners...)
		}
	}

	if len(identities) == 0 {
		home, err := os.UserHomeDir()
		if err == nil {
			for _, name := range defaultIdentities {
				identities = append(identities, filepath.Join(home, ".ssh", name))
			}
		}
	}
	for _, path := range identities {
		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			// encrypted keys need a passphrase, which is never prompted for
			log.WithError(err).WithFields(logrus.Fields{"identity": path}).Debug("skipping identity")
			continue
		}
		signers = append(signers, signer)
	}
	return signers, closer
}

func hostKeyCallback(log logrus.FieldLogger, path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return knownhosts.New(path)
		}
	}
	log.Warn("No known_hosts file, accepting any host key")
	return ssh.InsecureIgnoreHostKey(), nil
}

type dialerFunc func(network, addr string) (net.Conn, error)

func (f dialerFunc) Dial(network, addr string) (net.Conn, error) { return f(network, addr) }

// newTunneledClient builds a client whose every request goes through dial,
// whatever the endpoint says.
func newTunneledClient(dial func(ctx context.Context) (net.Conn, error)) (*docker.Client, error) {
	client, err := docker.NewClient("tcp://docker:2375")
	if err != nil {
		return nil, fmt.Errorf("couldn't create docker client: %w", err)
	}
	client.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dial(ctx)
			},
			MaxIdleConns:    4,
			IdleConnTimeout: 30 * time.Second,
		},
	}
	client.Dialer = dialerFunc(func(_, _ string) (net.Conn, error) {
		return dial(context.Background())
	})
	return client, nil
}
