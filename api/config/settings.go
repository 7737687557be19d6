package config

import (
	"path"
	"time"

	"github.com/slogdb/slogadm/api/common"
	"github.com/vrischmann/envconfig"
)

// EnvPrefix prefixes every environment variable read into Settings, e.g.
// SLOGADM_IMAGE.
const EnvPrefix = "SLOGADM"

// Settings holds the deployment constants of the tool itself. They are
// threaded explicitly through every component instead of living in
// package level variables.
type Settings struct {
	User  string `envconfig:"default=ubuntu"`
	Image string `envconfig:"default=ctring/slog"`

	// ContainerName names the server container on each node and, with a
	// _<replica>_<partition> suffix, on the local emulator.
	ContainerName        string `envconfig:"default=slog"`
	GenDataContainerName string `envconfig:"default=gen_data"`
	ServerBinary         string `envconfig:"default=slog"`
	GenDataScript        string `envconfig:"default=tools/gen_data.py"`

	ContainerDataDir string `envconfig:"default=/var/tmp"`
	HostDataDir      string `envconfig:"default=/var/tmp"`
	ConfigFileName   string `envconfig:"default=slog.conf"`

	NetworkName string `envconfig:"default=slog_nw"`
	Subnet      string `envconfig:"default=172.28.0.0/16"`
	IPRange     string `envconfig:"default=172.28.5.0/24"`

	DockerSocket     string        `envconfig:"default=/var/run/docker.sock"`
	SSHPort          int           `envconfig:"default=22"`
	KnownHosts       string        `envconfig:"optional"`
	Identities       []string      `envconfig:"optional"`
	ConnectTimeout   time.Duration `envconfig:"default=10s"`
	MinDockerVersion string        `envconfig:"default=17.05.0-ce"`

	PullRetries       uint64 `envconfig:"default=2"`
	PullRetryInterval uint64 `envconfig:"default=500"`
	PullRetryMaxDelay uint64 `envconfig:"default=5000"`

	LogLevel  string `envconfig:"default=info"`
	LogFormat string `envconfig:"default=text"`
	LogDest   string `envconfig:"default=stderr"`
}

// LoadSettings reads SLOGADM_* environment variables on top of the
// defaults.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.InitWithPrefix(&s, EnvPrefix); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ContainerConfigPath is where the server reads its configuration inside
// the container.
func (s Settings) ContainerConfigPath() string {
	return path.Join(s.ContainerDataDir, s.ConfigFileName)
}

// PullRetryPolicy returns the backoff used for transient image pull
// failures.
func (s Settings) PullRetryPolicy() common.BackOffConfig {
	interval := s.PullRetryInterval
	if interval == 0 {
		interval = 1
	}
	maxDelay := s.PullRetryMaxDelay
	if maxDelay != 0 && maxDelay < interval {
		maxDelay = interval
	}
	return common.BackOffConfig{
		MaxRetries: s.PullRetries,
		Interval:   interval,
		MinDelay:   interval,
		MaxDelay:   maxDelay,
	}
}
