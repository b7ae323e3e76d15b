// Package watcher surfaces working-directory file changes into a
// conversation's block stream so subscribers see what the agent touched.
package watcher

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

// Watcher builds per-conversation file watchers.
type Watcher struct {
	bus      ports.Publisher
	debounce time.Duration
	ignore   []string
}

// New creates a watcher factory.
func New(bus ports.Publisher, debounce time.Duration, ignorePatterns []string) *Watcher {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{bus: bus, debounce: debounce, ignore: ignorePatterns}
}

// Watch starts watching root recursively for one conversation and returns a
// stop function. File events are debounced per path and delivered as
// ephemeral system blocks; they are transient UI signals, not history.
func (w *Watcher) Watch(conversationID, root string) (func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.addRecursive(fw, root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = fw.Close()
		})
	}

	go w.run(fw, conversationID, root, done)
	return stop, nil
}

func (w *Watcher) run(fw *fsnotify.Watcher, conversationID, root string, done <-chan struct{}) {
	pending := make(map[string]fsnotify.Op)
	var mu sync.Mutex
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]fsnotify.Op)
		mu.Unlock()

		for path, op := range batch {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			block := conversation.NewBlock(conversationID, conversation.BlockSystem)
			block.Content = rel
			block.WithMeta("event", "file_changed")
			block.WithMeta("path", rel)
			block.WithMeta("op", opString(op))
			w.bus.PublishEphemeral(block)
		}
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if w.ignored(root, ev.Name) {
				continue
			}
			// New directories join the watch set.
			if ev.Op.Has(fsnotify.Create) {
				if err := w.addRecursive(fw, ev.Name); err == nil {
					log.Debug().Str("path", ev.Name).Msg("watching new path")
				}
			}
			mu.Lock()
			pending[ev.Name] |= ev.Op
			mu.Unlock()
			timer.Reset(w.debounce)
		case <-timer.C:
			flush()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Str("conversation_id", conversationID).Msg("watcher error")
		}
	}
}

// addRecursive registers path and, when it is a directory, all non-ignored
// subdirectories.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path, p) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// ignored matches a path against the ignore patterns, checking the base name
// and every path segment under root.
func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	if rel == "." {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range w.ignore {
			if ok, _ := filepath.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return op.String()
	}
}
