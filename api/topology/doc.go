// Package topology models the cluster as a replica x partition grid of node
// addresses.
//
// A Topology is built once per operation, either from the addresses in the
// cluster configuration (Build) or, for the local emulator, from addresses
// drawn in order from a private IPv4 range (BuildLocal). It is immutable and
// safe to share between goroutines.
package topology
