//go:build !linux
// +build !linux

package ui

import (
	"os"
)

// signals stop RunHeadless
func signals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
