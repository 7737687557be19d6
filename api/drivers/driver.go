// Interface for all container drivers

package drivers

import (
	"context"
	"io"
	"time"
)

// Mount binds a host directory into a container.
type Mount struct {
	Source string
	Target string
}

// ContainerSpec describes a named container to create.
type ContainerSpec struct {
	Name  string
	Image string
	Cmd   []string
	Env   map[string]string

	Mounts []Mount

	// NetworkMode is passed to the runtime as is, e.g. "host". Empty means
	// the runtime default.
	NetworkMode string
}

// LogOptions selects what ContainerLogs writes and where.
type LogOptions struct {
	Follow bool
	// Since skips output older than this time. Zero means from the start.
	Since  time.Time
	Stdout io.Writer
	Stderr io.Writer
}

// NetworkSpec describes a private bridge network.
type NetworkSpec struct {
	Name    string
	Driver  string
	Subnet  string
	IPRange string
}

// Driver is the set of container runtime operations the control plane
// needs on one host. Implementations must be safe for concurrent use.
//
// Every method addressing a container by name returns an error wrapping
// models.ErrProcessNotFound when no such container exists.
type Driver interface {
	// CreateContainer creates, but does not start, a container and returns
	// its id.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	StartContainer(ctx context.Context, name string) error

	// StopContainer stops a running container, killing it after timeout.
	// Stopping a container that is not running is not an error.
	StopContainer(ctx context.Context, name string, timeout time.Duration) error

	// RemoveContainer force-removes a container, running or not.
	RemoveContainer(ctx context.Context, name string) error

	// ContainerState returns the runtime's state string, e.g. "running".
	ContainerState(ctx context.Context, name string) (string, error)

	// ContainerLogs copies the container output to opts.Stdout and
	// opts.Stderr. With opts.Follow it blocks until the container exits or
	// ctx is done.
	ContainerLogs(ctx context.Context, name string, opts LogOptions) error

	// WaitContainer blocks until the container exits and returns its exit
	// status.
	WaitContainer(ctx context.Context, name string) (int, error)

	// PullImage pulls image from its registry.
	PullImage(ctx context.Context, image string) error

	// FindNetwork returns the id of the network with exactly this name.
	FindNetwork(ctx context.Context, name string) (id string, ok bool, err error)

	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)

	// ConnectNetwork attaches a container to a network with a fixed IPv4
	// address. It must be called before the container is started for the
	// address to take effect.
	ConnectNetwork(ctx context.Context, network, container, ipv4 string) error

	// Version returns the runtime's server version.
	Version(ctx context.Context) (string, error)

	// Close releases the transport to the runtime.
	Close() error
}
