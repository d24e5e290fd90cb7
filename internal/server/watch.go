package server

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchProject watches the project tree and broadcasts a reload frame
// whenever something on disk changes underneath the editors. fsnotify
// watches are not recursive, so every directory is registered
// individually and new directories are added as they appear.
func (s *Server) watchProject() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	root := s.dir.Root()
	err = filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if entry.Name() == ".git" {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleFSEvent(watcher, root, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func (s *Server) handleFSEvent(watcher *fsnotify.Watcher, root string, event fsnotify.Event) {
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				s.logger.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
			}
		}
	}
	s.logger.Debug("project changed on disk", zap.String("path", rel), zap.String("op", event.Op.String()))
	s.registry.Broadcast(nil, "reload", rel)
}
