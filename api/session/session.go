// Package session opens one container runtime session per node of a
// topology and keeps them in grid order.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"github.com/slogdb/slogadm/api/drivers"
	"github.com/slogdb/slogadm/api/models"
	"github.com/slogdb/slogadm/api/topology"
)

// Dialer opens a runtime session to the node at addr as user.
type Dialer interface {
	Dial(ctx context.Context, user, addr string) (drivers.Driver, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, user, addr string) (drivers.Driver, error)

func (f DialerFunc) Dial(ctx context.Context, user, addr string) (drivers.Driver, error) {
	return f(ctx, user, addr)
}

// Session is a live channel to one node.
type Session struct {
	Node   models.NodeID
	Driver drivers.Driver
}

// Grid holds, for every slot of a topology, either a live session or the
// reason the slot is absent. It does not change after construction.
type Grid struct {
	topo   *topology.Topology
	slots  [][]*Session
	causes [][]error
	live   []*Session
	shared drivers.Driver
}

func newGrid(topo *topology.Topology) *Grid {
	g := &Grid{
		topo:   topo,
		slots:  make([][]*Session, topo.NumReplicas()),
		causes: make([][]error, topo.NumReplicas()),
	}
	for r := range g.slots {
		g.slots[r] = make([]*Session, topo.NumPartitions())
		g.causes[r] = make([]error, topo.NumPartitions())
	}
	return g
}

// seal computes the live list once, replica-major then partition-minor.
func (g *Grid) seal() *Grid {
	for r := range g.slots {
		for p := range g.slots[r] {
			if s := g.slots[r][p]; s != nil {
				g.live = append(g.live, s)
			}
		}
	}
	return g
}

// ConnectAll dials every node of topo. A node that cannot be reached is
// recorded absent with its cause and the others proceed.
func ConnectAll(ctx context.Context, topo *topology.Topology, dialer Dialer, user string) *Grid {
	return ConnectSubset(ctx, topo, dialer, user, nil)
}

// ConnectSubset dials only the nodes for which selected returns true. A
// nil selected dials every node. Unselected slots are absent with cause
// models.ErrNotSelected.
func ConnectSubset(ctx context.Context, topo *topology.Topology, dialer Dialer, user string, selected func(models.NodeID) bool) *Grid {
	g := newGrid(topo)

	var wg sync.WaitGroup
	for _, node := range topo.Nodes() {
		if selected != nil && !selected(node) {
			g.causes[node.Replica][node.Partition] = models.ErrNotSelected
			continue
		}

		wg.Add(1)
		go func(node models.NodeID) {
			defer wg.Done()
			log := common.Logger(ctx).WithFields(node.Fields())

			drv, err := dialer.Dial(ctx, user, node.Address)
			if err != nil {
				if !errors.Is(err, models.ErrAuthenticationRequired) && !errors.Is(err, models.ErrConnection) {
					err = models.NewConnectionError(node.Address, err)
				}
				log.WithError(err).Error("Failed to connect")
				g.causes[node.Replica][node.Partition] = err
				return
			}
			log.Info("Connected")
			g.slots[node.Replica][node.Partition] = &Session{Node: node, Driver: drv}
		}(node)
	}
	wg.Wait()

	return g.seal()
}

// Shared returns a grid in which every slot is live and bound to drv.
func Shared(topo *topology.Topology, drv drivers.Driver) *Grid {
	g := newGrid(topo)
	g.shared = drv
	for _, node := range topo.Nodes() {
		g.slots[node.Replica][node.Partition] = &Session{Node: node, Driver: drv}
	}
	return g.seal()
}

func (g *Grid) Topology() *topology.Topology { return g.topo }

// Live returns the live sessions in topology order.
func (g *Grid) Live() []*Session { return g.live }

// Session returns the session at a slot, or nil and the reason it is
// absent.
func (g *Grid) Session(replica, partition int) (*Session, error) {
	if replica < 0 || replica >= len(g.slots) || partition < 0 || partition >= len(g.slots[replica]) {
		return nil, models.ErrNodeOutOfRange
	}
	if s := g.slots[replica][partition]; s != nil {
		return s, nil
	}
	return nil, g.causes[replica][partition]
}

// Failed returns the absent nodes in topology order, excluding the ones
// that were never selected.
func (g *Grid) Failed() []models.NodeID {
	var out []models.NodeID
	for _, node := range g.topo.Nodes() {
		cause := g.causes[node.Replica][node.Partition]
		if cause != nil && !errors.Is(cause, models.ErrNotSelected) {
			out = append(out, node)
		}
	}
	return out
}

// Close releases every transport. Errors are logged.
func (g *Grid) Close() {
	if g.shared != nil {
		if err := g.shared.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing runtime session")
		}
		return
	}
	for _, s := range g.live {
		if err := s.Driver.Close(); err != nil {
			logrus.WithFields(s.Node.Fields()).WithError(err).Warn("Error closing runtime session")
		}
	}
}
