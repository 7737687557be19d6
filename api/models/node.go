package models

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NodeID identifies one slot of the replica x partition grid.
type NodeID struct {
	Replica   int    `json:"replica"`
	Partition int    `json:"partition"`
	Address   string `json:"address"`
}

// ContainerName is the deterministic name used for this slot when every
// node runs on the same container runtime.
func (n NodeID) ContainerName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, n.Replica, n.Partition)
}

// Fields returns the log fields attributing a line to this node.
func (n NodeID) Fields() logrus.Fields {
	return logrus.Fields{"node": n.Address, "replica": n.Replica, "partition": n.Partition}
}

func (n NodeID) String() string {
	return fmt.Sprintf("(%d, %d) %s", n.Replica, n.Partition, n.Address)
}
