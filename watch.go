package ui

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// watchShader loads the shader file and reloads it after every change, until ctx is done.
func (c *Controller) watchShader(ctx context.Context, path string) {
	log := logger("watch").With(zap.String("path", path))
	watcher, err := newFsWatcher()
	if err != nil {
		log.Warn("file watching is not available", zap.Error(err))
		if err = c.loadShaderFile(path); err != nil {
			log.Warn("could not load shader", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warn("could not stop watching", zap.Error(err))
		}
	}()
	// Editors usually replace the file instead of writing to it, so watch the directory
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		log.Warn("could not watch shader", zap.Error(err))
	}
	if err = c.loadShaderFile(path); err != nil { // After watching, so that no change is missed
		log.Warn("could not load shader", zap.Error(err))
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.loadShaderFile(path); err != nil {
				log.Warn("could not reload shader", zap.Error(err))
				continue
			}
			log.Debug("shader changed", zap.Stringer("op", ev.Op))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

// loadShaderFile replaces the source with the file contents and marks the document as loaded.
func (c *Controller) loadShaderFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read shader")
	}
	c.store.Source.Set(string(data))
	c.store.DocumentLoaded.Set(true)
	return nil
}
