package common

import (
	"errors"
	"io"
	"net"
	"syscall"
)

type Temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err looks like a transient transport failure
// worth retrying.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var v Temporary
	return (errors.As(err, &v) && v.Temporary()) || isNet(err)
}

func isNet(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	var operr *net.OpError
	if errors.As(err, &operr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && errno == errConnRefused {
		return true // connection refused
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
