package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 500 * time.Millisecond

var ErrNoPaths = errors.New("watch: no watchable paths")

// Watcher calls OnChange, debounced, whenever a watched path changes.
// Directories match any entry inside them; files match by name.
type Watcher struct {
	paths    []string
	debounce time.Duration
	onChange func()

	mu       sync.Mutex
	timer    *time.Timer
	fsw      *fsnotify.Watcher
	files    map[string]struct{}
	dirs     map[string]struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(paths []string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		debounce: defaultDebounce,
		onChange: onChange,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		w.paths = append(w.paths, filepath.Clean(p))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the paths and runs until ctx is done or Stop is called.
// Paths that do not exist and whose parent does not exist are skipped.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := 0
	for _, p := range w.paths {
		target := p
		info, statErr := os.Stat(p)
		if statErr == nil && info.IsDir() {
			w.dirs[p] = struct{}{}
		} else {
			w.files[p] = struct{}{}
			target = filepath.Dir(p)
		}
		if err := fsw.Add(target); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("watch.Watcher.Start skipped path")
			continue
		}
		added++
	}
	if added == 0 {
		_ = fsw.Close()
		return ErrNoPaths
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	go w.loop(fsw)
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()
	log.Debug().Strs("paths", w.paths).Dur("debounce", w.debounce).Msg("watch.Watcher.Start")
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.fsw != nil {
			_ = w.fsw.Close()
			w.fsw = nil
		}
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.matches(event) {
				w.schedule()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watch.Watcher.loop error")
		}
	}
}

func (w *Watcher) matches(event fsnotify.Event) bool {
	if event.Name == "" {
		return false
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if _, ok := w.files[name]; ok {
		return true
	}
	_, ok := w.dirs[filepath.Dir(name)]
	return ok
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if w.onChange != nil {
			w.onChange()
		}
	})
}
