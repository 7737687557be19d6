//go:build windows || nacl || plan9
// +build windows nacl plan9

package common

import (
	"errors"
	"net/url"
)

func NewSyslogHook(url *url.URL, prefix string) error {
	return errors.New("Syslog not supported on this system.")
}
