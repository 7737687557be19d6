package topology

import (
	"fmt"
	"net/netip"

	"github.com/slogdb/slogadm/api/models"
)

// Source is what a topology is built from. *config.Configuration
// implements it.
type Source interface {
	NumPartitions() int
	Addresses() [][]string
}

type Topology struct {
	partitions int
	replicas   [][]string
}

// Build returns the grid described by src. Every replica must list exactly
// NumPartitions addresses. Reachability is not checked here.
func Build(src Source) (*Topology, error) {
	addrs := src.Addresses()
	partitions := src.NumPartitions()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no replicas configured", models.ErrInvalidTopology)
	}
	if partitions <= 0 {
		return nil, fmt.Errorf("%w: num_partitions must be positive, got %d", models.ErrInvalidTopology, partitions)
	}

	replicas := make([][]string, len(addrs))
	for r, rep := range addrs {
		if len(rep) != partitions {
			return nil, fmt.Errorf("%w: replica %d has %d addresses, expected %d",
				models.ErrInvalidTopology, r, len(rep), partitions)
		}
		replicas[r] = append([]string(nil), rep...)
	}
	return &Topology{partitions: partitions, replicas: replicas}, nil
}

// BuildLocal ignores the configured addresses and assigns one address per
// slot from the usable hosts of ipRange, in replica-major order. The
// assignment is deterministic for a given range and shape.
func BuildLocal(src Source, ipRange string) (*Topology, error) {
	numReplicas := len(src.Addresses())
	partitions := src.NumPartitions()
	if numReplicas == 0 {
		return nil, fmt.Errorf("%w: no replicas configured", models.ErrInvalidTopology)
	}
	if partitions <= 0 {
		return nil, fmt.Errorf("%w: num_partitions must be positive, got %d", models.ErrInvalidTopology, partitions)
	}

	hosts, err := NewHostIterator(ipRange)
	if err != nil {
		return nil, err
	}

	replicas := make([][]string, numReplicas)
	for r := range replicas {
		replicas[r] = make([]string, partitions)
		for p := range replicas[r] {
			addr, ok := hosts.Next()
			if !ok {
				return nil, fmt.Errorf("%w: %s has fewer than %d usable hosts",
					models.ErrAddressRangeExhausted, ipRange, numReplicas*partitions)
			}
			replicas[r][p] = addr.String()
		}
	}
	return &Topology{partitions: partitions, replicas: replicas}, nil
}

func (t *Topology) NumReplicas() int   { return len(t.replicas) }
func (t *Topology) NumPartitions() int { return t.partitions }
func (t *Topology) Size() int          { return len(t.replicas) * t.partitions }

// Node returns the identity of slot (replica, partition).
func (t *Topology) Node(replica, partition int) (models.NodeID, error) {
	if replica < 0 || replica >= len(t.replicas) || partition < 0 || partition >= t.partitions {
		return models.NodeID{}, fmt.Errorf("%w: (%d, %d)", models.ErrNodeOutOfRange, replica, partition)
	}
	return models.NodeID{Replica: replica, Partition: partition, Address: t.replicas[replica][partition]}, nil
}

// Lookup finds the first slot bound to addr.
func (t *Topology) Lookup(addr string) (models.NodeID, bool) {
	for r, rep := range t.replicas {
		for p, a := range rep {
			if a == addr {
				return models.NodeID{Replica: r, Partition: p, Address: a}, true
			}
		}
	}
	return models.NodeID{}, false
}

// Nodes lists every slot, replica-major, partition-minor.
func (t *Topology) Nodes() []models.NodeID {
	out := make([]models.NodeID, 0, t.Size())
	for r, rep := range t.replicas {
		for p, a := range rep {
			out = append(out, models.NodeID{Replica: r, Partition: p, Address: a})
		}
	}
	return out
}

// Addresses returns a copy of the address grid.
func (t *Topology) Addresses() [][]string {
	out := make([][]string, len(t.replicas))
	for r, rep := range t.replicas {
		out[r] = append([]string(nil), rep...)
	}
	return out
}

// HostIterator walks the usable host addresses of an IPv4 prefix: the
// network and broadcast addresses are skipped unless the prefix is a /31
// or /32.
type HostIterator struct {
	next netip.Addr
	last netip.Addr
	done bool
}

func NewHostIterator(cidr string) (*HostIterator, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid address range %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid address range %q: only IPv4 ranges are supported", cidr)
	}
	prefix = prefix.Masked()

	first := prefix.Addr()
	last := lastAddr(prefix)
	if prefix.Bits() < 31 {
		first = first.Next()
		last = last.Prev()
	}
	return &HostIterator{next: first, last: last}, nil
}

func (h *HostIterator) Next() (netip.Addr, bool) {
	if h.done || h.last.Less(h.next) {
		return netip.Addr{}, false
	}
	addr := h.next
	if addr == h.last {
		h.done = true
	} else {
		h.next = addr.Next()
	}
	return addr, true
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	a := prefix.Addr().As4()
	host := 32 - prefix.Bits()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	if host > 0 {
		v |= (uint32(1) << host) - 1
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
