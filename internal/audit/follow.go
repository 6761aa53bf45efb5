// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// followPoll is the fallback re-check interval for filesystems that drop
// change notifications.
const followPoll = time.Second

// follower tails the active segment across rotations.
type follower struct {
	dir    string
	gen    uint64
	offset int64
	fn     func(Event)
}

// Follow calls fn for every record appended to the log in dir until ctx is
// done. With fromStart set, existing records are delivered first. Records
// are delivered in log order, following rotations.
func Follow(ctx context.Context, dir string, fromStart bool, fn func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw := &follower{dir: dir, fn: fn}
	if err := fw.start(fromStart); err != nil {
		return err
	}

	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if _, isSeg := ParseSegmentName(name); isSeg || name == ManifestName {
				fw.drain()
			}

		case <-ticker.C:
			fw.drain()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("audit follow watcher error")
		}
	}
}

func (fw *follower) start(fromStart bool) error {
	segs, err := LoadSnapshot(fw.dir)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		fw.gen = 1
		return nil
	}
	active := segs[len(segs)-1]
	fw.gen = active.Generation

	if fromStart {
		for _, seg := range segs[:len(segs)-1] {
			events, warnings := ReadSegment(seg)
			logWarnings(warnings)
			for _, e := range events {
				fw.fn(e)
			}
		}
		fw.drain()
		return nil
	}

	end, _, err := scanFile(active.Path, 0, -1, func(Event) {})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fw.offset = end
	return nil
}

// drain delivers complete records past the current offset, then moves on
// to newer generations published by the manifest.
func (fw *follower) drain() {
	for {
		if !fw.readCurrent() {
			return
		}
		m, ok, err := LoadManifest(fw.dir)
		if err != nil || !ok || m.ActiveGeneration <= fw.gen {
			return
		}
		// the current generation is closed; collect what was written to it
		// before the rotation
		if !fw.readCurrent() {
			return
		}
		fw.gen++
		fw.offset = 0
	}
}

func (fw *follower) readCurrent() bool {
	path := filepath.Join(fw.dir, SegmentName(fw.gen))
	end, warnings, err := scanFile(path, fw.offset, -1, fw.fn)
	logWarnings(warnings)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("segment", path).Warn("audit follow read failed")
		return false
	}
	fw.offset = end
	return true
}

func logWarnings(warnings []Warning) {
	for _, w := range warnings {
		if w.Truncated {
			// the writer has not finished this record yet
			continue
		}
		log.Warn(w.String())
	}
}
