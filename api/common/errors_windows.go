//go:build windows

package common

import "golang.org/x/sys/windows"

const errConnRefused = windows.WSAECONNREFUSED
