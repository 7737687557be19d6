//go:build !unix && !windows

package common

import "syscall"

const errConnRefused = syscall.Errno(0)
