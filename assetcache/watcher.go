package assetcache

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher reports map and tileset image files that changed on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan string
	Errors  chan error
	closeCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

func NewWatcher(dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	watcher := &Watcher{
		watcher: w,
		Events:  make(chan string, 16),
		Errors:  make(chan error, 1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.doneCh
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	last := make(map[string]time.Time)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !IsMapFile(event.Name) && !IsImageFile(event.Name) {
				continue
			}
			now := time.Now()
			if t, ok := last[event.Name]; ok && now.Sub(t) < watchDebounce {
				continue
			}
			last[event.Name] = now
			select {
			case w.Events <- event.Name:
			case <-w.closeCh:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		case <-w.closeCh:
			return
		}
	}
}

// IsMapFile matches map documents by extension.
func IsMapFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".map.json")
}

func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".png" && !strings.HasSuffix(strings.ToLower(path), ".thumb.png")
}

// Refresher applies file changes reported by a Watcher. Fields may be nil.
type Refresher struct {
	Cache      *Cache
	Thumbnails *Thumbnails
	Images     interface{ Reload(path string) bool }
}

// Apply invalidates whatever depends on path and reports whether anything
// was affected.
func (r Refresher) Apply(path string) bool {
	canon, err := Canonical(path, "")
	if err != nil {
		return false
	}
	hit := false
	if IsMapFile(canon) {
		if r.Cache != nil && r.Cache.Invalidate(canon) {
			hit = true
		}
		if r.Thumbnails != nil {
			r.Thumbnails.Forget(canon)
		}
	}
	if IsImageFile(canon) && r.Images != nil && r.Images.Reload(canon) {
		hit = true
	}
	return hit
}
