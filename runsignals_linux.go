//go:build linux
// +build linux

package ui

import (
	"os"
	"syscall"
)

// signals stop RunHeadless (SIGTERM is what service managers send)
func signals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
