//go:build freebsd || openbsd || netbsd || dragonfly || darwin || windows || linux || solaris
// +build freebsd openbsd netbsd dragonfly darwin windows linux solaris

package ui

import "github.com/fsnotify/fsnotify"

// watchBuffer absorbs the bursts of events of a single save (truncate, write, chmod...)
const watchBuffer = 16

func newFsWatcher() (*fsnotify.Watcher, error) {
	return fsnotify.NewBufferedWatcher(watchBuffer)
}
