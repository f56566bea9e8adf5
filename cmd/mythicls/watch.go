package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/0tickpulse/mythicls/internal/config"
	"github.com/0tickpulse/mythicls/internal/lsp"
)

// watchLoop keeps the session alive after the initial check, feeding file
// edits to the server and reprinting diagnostics as they arrive. Changes to
// the configuration file update the trace level on the live session.
func watchLoop(ctx context.Context, logger zerolog.Logger, cfgPath, root string, files []string, session *lsp.Session, bridge *lsp.Bridge, settle time.Duration) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()

	watched := make(map[string]bool, len(files))
	for _, path := range files {
		if err := fsw.Add(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot watch file")
			continue
		}
		watched[path] = true
	}

	var cfgWatcher *config.Watcher
	if cfgPath != "" {
		cfgWatcher, err = config.NewWatcher(cfgPath, func() {
			reloadTrace(logger, cfgPath, session)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn().Err(err).Str("path", cfgPath).Msg("cannot watch config file")
		} else {
			defer cfgWatcher.Close()
		}
	}

	logger.Info().Int("files", len(watched)).Msg("watching for changes, ctrl-c to stop")

	// Edits arrive as bursts; collect dirty paths and flush after quiet.
	dirty := make(map[string]bool)
	var flush *time.Timer
	var flushCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !watched[event.Name] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				dirty[event.Name] = true
				if flush == nil {
					flush = time.NewTimer(200 * time.Millisecond)
					flushCh = flush.C
				} else {
					flush.Reset(200 * time.Millisecond)
				}
			}
			// Some editors replace the file on save, dropping the watch.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				fsw.Add(event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("file watcher error")

		case <-flushCh:
			flush = nil
			flushCh = nil
			paths := make([]string, 0, len(dirty))
			for path := range dirty {
				paths = append(paths, path)
				delete(dirty, path)
			}
			recheck(logger, root, paths, session, bridge, settle)
		}
	}
}

// recheck pushes the new content of the changed files and reprints their
// diagnostics once the server has had a chance to respond.
func recheck(logger zerolog.Logger, root string, paths []string, session *lsp.Session, bridge *lsp.Bridge, settle time.Duration) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot re-read file")
			continue
		}
		if err := bridge.DidChange(path, string(data), nil); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("didChange failed")
			continue
		}
		if err := bridge.DidSave(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("didSave failed")
		}
	}

	time.Sleep(settle)
	if n := printDiagnostics(root, paths, session); n == 0 {
		for _, path := range paths {
			logger.Info().Str("path", path).Msg("clean")
		}
	}
}

// reloadTrace re-reads the configuration file and applies its trace level
// to the running session.
func reloadTrace(logger zerolog.Logger, cfgPath string, session *lsp.Session) {
	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		logger.Warn().Err(err).Msg("config reload failed, keeping current settings")
		return
	}
	level, err := lsp.ParseTraceLevel(cfg.Trace)
	if err != nil {
		logger.Warn().Err(err).Msg("config reload failed, keeping current trace level")
		return
	}
	if level != session.TraceLevel() {
		logger.Info().Str("trace", level.String()).Msg("trace level updated")
		session.SetTraceLevel(level)
	}
}
