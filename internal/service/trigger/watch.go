package trigger

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
)

// watchConfig reloads the config file whenever it is written and starts
// tracking containers it newly lists. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func (s *Service) watchConfig(ctx context.Context) {
	path := s.cfg.ConfigFileUsed
	if path == "" || s.reload == nil {
		logger.Warn(ctx, "Config watching enabled but no config file is in use")
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error(ctx, "Failed to create config watcher", tag.Error(err))
		return
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Error(ctx, "Failed to watch config directory", tag.File(path), tag.Error(err))
		return
	}
	logger.Info(ctx, "Watching config file", tag.File(path))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reloadConfig(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn(ctx, "Config watcher error", tag.Error(err))
		}
	}
}

func (s *Service) reloadConfig(ctx context.Context) {
	cfg, err := s.reload()
	if err != nil {
		logger.Error(ctx, "Failed to reload config", tag.File(s.cfg.ConfigFileUsed), tag.Error(err))
		return
	}

	if added := s.AddContainers(ctx, cfg.TrackedContainers()...); added > 0 {
		s.Trigger()
	}

	if !slices.Equal(s.cfg.FunctionNames(), cfg.FunctionNames()) {
		logger.Warn(ctx, "Function changes take effect after restart")
	}
}
