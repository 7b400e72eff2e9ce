// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/logger"
)

const watcherEventBufferSize = 16

// ReloadEvent is published after document files under the watched directory
// changed and the debounce window elapsed. Paths lists the affected files;
// the consumer performs a full reload either way, the paths are for logging.
type ReloadEvent struct {
	Paths []string
}

// Watcher monitors the hardware object document directory and publishes
// debounced ReloadEvents. Editors write files in several bursts, so events
// are collected for ConfigWatcherDebounce before one ReloadEvent goes out.
type Watcher struct {
	watcher  *fsnotify.Watcher
	events   chan ReloadEvent
	log      *zap.SugaredLogger
	stopCh   chan struct{}
	stopOnce sync.Once
	dir      string
}

// NewWatcher creates a new document directory watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		events: make(chan ReloadEvent, watcherEventBufferSize),
		log:    logger.For(logger.ComponentConfigWatcher),
		stopCh: make(chan struct{}),
	}
}

// Start begins watching dir and all its subdirectories.
func (w *Watcher) Start(dir string) error {
	var err error

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.dir = dir

	// Watch the tree: fsnotify watches are per-directory, not recursive
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.watcher.Add(path)
		}

		return nil
	})
	if err != nil {
		closeErr := w.watcher.Close()
		if closeErr != nil {
			w.log.Warnf("failed to close watcher: %v", closeErr)
		}

		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.watchLoop()

	w.log.Infof("Watching %s for document changes", dir)

	return nil
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error

	w.stopOnce.Do(func() {
		close(w.stopCh)

		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})

	return err
}

// Events returns the channel ReloadEvents are published on.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// isDocument reports whether path looks like a hardware object document.
func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".xml":
		return true
	default:
		return false
	}
}

func (w *Watcher) watchLoop() {
	// The timer is armed on the first relevant event and re-armed on each
	// further one, so the ReloadEvent fires once the burst settles.
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	pending := make(map[string]struct{})

	rearm := func() {
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(constants.ConfigWatcherDebounce)
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// A created subdirectory must be watched too
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.Warnf("failed to watch new directory %s: %v", event.Name, err)
					}

					continue
				}
			}

			if !isDocument(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = struct{}{}
				rearm()
			}
		case <-debounce.C:
			if len(pending) == 0 {
				continue
			}

			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}

			sort.Strings(paths)
			pending = make(map[string]struct{})

			w.log.Infof("Documents changed: %v", paths)

			select {
			case w.events <- ReloadEvent{Paths: paths}:
			case <-w.stopCh:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.log.Warnf("Watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}
