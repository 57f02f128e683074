package vault

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher feeds edited vault documents into the rescan queue. Edit bursts
// are debounced per batch: paths collect while the timer runs and are
// enqueued together when it fires.
type Watcher struct {
	root     string
	queue    *RescanQueue
	logger   *slog.Logger
	debounce time.Duration
}

func NewWatcher(root string, queue *RescanQueue, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     filepath.Clean(strings.TrimSpace(root)),
		queue:    queue,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// SetDebounce overrides the edit-settle window. Non-positive values keep
// the default.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching the vault root and its subdirectories. The watch
// goroutine runs until the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	addDir := func(dir string) {
		if err := fsw.Add(dir); err != nil {
			if os.IsNotExist(err) {
				return
			}
			w.logger.Warn("vault watcher: add failed", "dir", dir, "error", err)
		}
	}
	addDir(w.root)
	walkErr := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != w.root && !strings.HasPrefix(d.Name(), ".") {
			addDir(path)
		}
		return nil
	})
	if walkErr != nil {
		w.logger.Warn("vault watcher: walk failed", "root", w.root, "error", walkErr)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
		}()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			docs := make([]string, 0, len(pending))
			for doc := range pending {
				docs = append(docs, doc)
			}
			sort.Strings(docs)
			for _, doc := range docs {
				if !w.queue.TryEnqueue(doc) {
					w.logger.Warn("rescan queue full; dropping edit", "doc", doc)
				}
			}
			clear(pending)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
							addDir(ev.Name)
						}
						continue
					}
				}
				if !IsVaultDocument(ev.Name) {
					continue
				}
				pending[ev.Name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
					timerC = timer.C
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("vault watcher error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()

	return nil
}

// IsVaultDocument reports whether a path names a scannable vault document.
// Hidden files, including the sync state file and atomic-write temps, do
// not qualify.
func IsVaultDocument(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".zortex":
		return true
	}
	return false
}
