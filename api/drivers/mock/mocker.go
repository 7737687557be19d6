package mock

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/models"
)

// Operation names accepted by Fail.
const (
	OpCreate  = "create"
	OpStart   = "start"
	OpStop    = "stop"
	OpRemove  = "remove"
	OpState   = "state"
	OpLogs    = "logs"
	OpWait    = "wait"
	OpPull    = "pull"
	OpNetwork = "network"
	OpConnect = "connect"
	OpVersion = "version"
)

func New() *Mocker {
	return &Mocker{
		containers: make(map[string]*Container),
		networks:   make(map[string]drivers.NetworkSpec),
		failures:   make(map[string][]error),
		exitCodes:  make(map[string]int),
		output:     make(map[string]string),
		version:    "24.0.7",
	}
}

// Container is the recorded state of one mock container.
type Container struct {
	ID    string
	Spec  drivers.ContainerSpec
	State string
	// Network and IP are set by ConnectNetwork.
	Network string
	IP      string
}

// Mocker is an in-memory drivers.Driver.
type Mocker struct {
	mu         sync.Mutex
	count      int
	containers map[string]*Container
	networks   map[string]drivers.NetworkSpec
	failures   map[string][]error
	exitCodes  map[string]int
	output     map[string]string
	version    string
	pulls      []string
	closed     bool
}

var _ drivers.Driver = (*Mocker)(nil)

// Fail queues errs to be returned, in order, by the next calls of op.
func (m *Mocker) Fail(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// SetExitCode sets the status WaitContainer reports for name.
func (m *Mocker) SetExitCode(name string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitCodes[name] = code
}

// SetOutput sets what ContainerLogs writes to stdout for name.
func (m *Mocker) SetOutput(name, out string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output[name] = out
}

func (m *Mocker) SetVersion(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = v
}

// Containers returns the names of existing containers, sorted.
func (m *Mocker) Containers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.containers))
	for name := range m.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Container returns a copy of the named container.
func (m *Mocker) Container(name string) (Container, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// Networks returns the names of existing networks, sorted.
func (m *Mocker) Networks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.networks))
	for name := range m.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pulls returns every image pulled successfully, in order.
func (m *Mocker) Pulls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pulls...)
}

func (m *Mocker) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// injected pops the next queued failure for op. Callers hold m.mu.
func (m *Mocker) injected(op string) error {
	errs := m.failures[op]
	if len(errs) == 0 {
		return nil
	}
	m.failures[op] = errs[1:]
	return errs[0]
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", models.ErrProcessNotFound, name)
}

func (m *Mocker) CreateContainer(ctx context.Context, spec drivers.ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpCreate); err != nil {
		return "", err
	}
	if _, ok := m.containers[spec.Name]; ok {
		return "", fmt.Errorf("container %q already exists", spec.Name)
	}
	m.count++
	c := &Container{ID: fmt.Sprintf("mock%04d", m.count), Spec: spec, State: "created"}
	m.containers[spec.Name] = c
	return c.ID, nil
}

func (m *Mocker) StartContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpStart); err != nil {
		return err
	}
	c, ok := m.containers[name]
	if !ok {
		return notFound(name)
	}
	c.State = "running"
	return nil
}

func (m *Mocker) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpStop); err != nil {
		return err
	}
	c, ok := m.containers[name]
	if !ok {
		return notFound(name)
	}
	if c.State == "running" {
		c.State = "exited"
	}
	return nil
}

func (m *Mocker) RemoveContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpRemove); err != nil {
		return err
	}
	if _, ok := m.containers[name]; !ok {
		return notFound(name)
	}
	delete(m.containers, name)
	return nil
}

func (m *Mocker) ContainerState(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpState); err != nil {
		return "", err
	}
	c, ok := m.containers[name]
	if !ok {
		return "", notFound(name)
	}
	return c.State, nil
}

// ContainerLogs writes the configured output. With Follow it then blocks
// until ctx is done.
func (m *Mocker) ContainerLogs(ctx context.Context, name string, opts drivers.LogOptions) error {
	m.mu.Lock()
	err := m.injected(OpLogs)
	_, ok := m.containers[name]
	out := m.output[name]
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return notFound(name)
	}
	if opts.Stdout != nil && out != "" {
		if _, err := io.WriteString(opts.Stdout, out); err != nil {
			return err
		}
	}
	if opts.Follow {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// WaitContainer marks the container exited and returns its configured
// exit status.
func (m *Mocker) WaitContainer(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpWait); err != nil {
		return 0, err
	}
	c, ok := m.containers[name]
	if !ok {
		return 0, notFound(name)
	}
	c.State = "exited"
	return m.exitCodes[name], nil
}

func (m *Mocker) PullImage(ctx context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpPull); err != nil {
		return err
	}
	m.pulls = append(m.pulls, image)
	return nil
}

func (m *Mocker) FindNetwork(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[name]; !ok {
		return "", false, nil
	}
	return "net-" + name, true, nil
}

func (m *Mocker) CreateNetwork(ctx context.Context, spec drivers.NetworkSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpNetwork); err != nil {
		return "", err
	}
	if _, ok := m.networks[spec.Name]; ok {
		return "", fmt.Errorf("network with name %s already exists", spec.Name)
	}
	m.networks[spec.Name] = spec
	return "net-" + spec.Name, nil
}

func (m *Mocker) ConnectNetwork(ctx context.Context, network, container, ipv4 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpConnect); err != nil {
		return err
	}
	if _, ok := m.networks[network]; !ok {
		return fmt.Errorf("network %s not found", network)
	}
	c, ok := m.containers[container]
	if !ok {
		return notFound(container)
	}
	c.Network = network
	c.IP = ipv4
	return nil
}

func (m *Mocker) Version(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpVersion); err != nil {
		return "", err
	}
	return m.version, nil
}

func (m *Mocker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
