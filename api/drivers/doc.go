// Package drivers abstracts the container runtime that hosts one node's
// server process.
//
// # Docker Driver
//
// The docker driver talks to a Docker daemon, either the local one or a
// remote one reached through an SSH tunnel.
//
// # Mock Driver
//
// The mock driver keeps containers and networks in memory. It is for
// testing only.
package drivers
