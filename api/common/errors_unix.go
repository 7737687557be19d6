//go:build unix

package common

import "golang.org/x/sys/unix"

const errConnRefused = unix.ECONNREFUSED
