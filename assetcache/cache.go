// Package assetcache loads map documents asynchronously and shares them
// between every composite that references them.
//
// Parsing happens on worker goroutines. Results are queued and handed to
// subscribers only from Pump, which the owning goroutine calls once per
// frame, so subscribers never run concurrently with the owner.
package assetcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/milk9111/worlded/mapdoc"
)

var (
	ErrInUse     = errors.New("assetcache: entry is still referenced")
	ErrNotCached = errors.New("assetcache: path is not cached")
	ErrClosed    = errors.New("assetcache: cache closed")
)

// LoadFunc reads and parses one document.
type LoadFunc func(path string) (*mapdoc.Map, error)

type Options struct {
	// Workers bounds concurrent parses. Defaults to GOMAXPROCS.
	Workers int
	Load    LoadFunc
	// Images, when set, receives every loaded document so its tileset
	// images are decoded on the worker as well.
	Images *mapdoc.ImageStore
	Logger *zap.Logger
}

// SubscriptionID identifies a subscriber for Unsubscribe.
type SubscriptionID int

type subscriber struct {
	id SubscriptionID
	fn func(Event)
}

type Cache struct {
	log    *zap.Logger
	load   LoadFunc
	images *mapdoc.ImageStore
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*Handle

	queue   eventQueue
	subs    []subscriber
	nextSub SubscriptionID
}

func New(opts Options) *Cache {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Load == nil {
		opts.Load = mapdoc.Load
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		log:     opts.Logger,
		load:    opts.Load,
		images:  opts.Images,
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]*Handle{},
	}
}

// Canonical resolves path against the directory of relativeTo when it is
// not absolute.
func Canonical(path, relativeTo string) (string, error) {
	if !filepath.IsAbs(path) && relativeTo != "" {
		path = filepath.Join(filepath.Dir(relativeTo), path)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("assetcache: resolve %s: %w", path, err)
	}
	return abs, nil
}

// LoadMap returns the handle for path and adds a reference to it. The
// first request starts an asynchronous load; later requests share the
// entry in whatever state it is in, failures included.
func (c *Cache) LoadMap(path, relativeTo string) *Handle {
	canon, err := Canonical(path, relativeTo)
	if err != nil {
		h := newHandle(path)
		h.refs = 1
		h.start()
		h.record(nil, err)
		close(h.done)
		return h
	}

	c.mu.Lock()
	h, ok := c.entries[canon]
	if !ok {
		h = newHandle(canon)
		c.entries[canon] = h
	}
	h.refs++
	c.mu.Unlock()

	if h.start() {
		c.wg.Add(1)
		go c.run(h)
	}
	return h
}

// Lookup returns the cached handle for a canonical path without adding a
// reference.
func (c *Cache) Lookup(canon string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[canon]
}

func (c *Cache) run(h *Handle) {
	defer c.wg.Done()
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		c.settle(h, nil, fmt.Errorf("%w: %s", ErrClosed, h.path))
		return
	}
	defer c.sem.Release(1)

	doc, err := c.load(h.path)
	if err != nil {
		c.log.Warn("map load failed", zap.String("path", h.path), zap.Error(err))
	} else if c.images != nil {
		c.images.Prepare(doc)
	}
	c.settle(h, doc, err)
}

func (c *Cache) settle(h *Handle, doc *mapdoc.Map, err error) {
	h.record(doc, err)
	c.queue.push(Event{Handle: h, Doc: doc, Err: err})
	close(h.done)
}

// Release drops one reference. The entry is evicted with its last
// reference unless Invalidate already replaced it.
func (c *Cache) Release(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.refs <= 0 {
		c.log.Error("release of unreferenced handle", zap.String("path", h.path))
		return
	}
	h.refs--
	if h.refs == 0 && c.entries[h.path] == h {
		delete(c.entries, h.path)
	}
}

// Refs returns the current reference count of h.
func (c *Cache) Refs(h *Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return h.refs
}

// Remove evicts an unreferenced entry, such as one whose load was never
// followed by a Release.
func (c *Cache) Remove(canon string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[canon]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCached, canon)
	}
	if h.refs > 0 {
		return fmt.Errorf("%w: %s has %d references", ErrInUse, canon, h.refs)
	}
	delete(c.entries, canon)
	return nil
}

// Invalidate forgets the entry for path after its file changed, so the
// next LoadMap reads the file again. Current holders keep the handle and
// document they already have.
func (c *Cache) Invalidate(canon string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[canon]; !ok {
		return false
	}
	delete(c.entries, canon)
	return true
}

// Subscribe registers fn for events delivered by Pump.
func (c *Cache) Subscribe(fn func(Event)) SubscriptionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: c.nextSub, fn: fn})
	return c.nextSub
}

func (c *Cache) Unsubscribe(id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.id == id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Pump delivers queued events to the subscribers in registration order
// and returns how many events were delivered. It must be called from the
// owning goroutine.
func (c *Cache) Pump() int {
	events := c.queue.drain()
	for _, evt := range events {
		c.mu.Lock()
		subs := append([]subscriber(nil), c.subs...)
		c.mu.Unlock()
		for _, s := range subs {
			s.fn(evt)
		}
	}
	return len(events)
}

// Pending reports the number of undelivered events.
func (c *Cache) Pending() int {
	return c.queue.len()
}

// Wait blocks until every handle has settled or ctx is done. It does not
// deliver events; call Pump afterwards on the owning goroutine.
func (c *Cache) Wait(ctx context.Context, handles ...*Handle) error {
	for _, h := range handles {
		if h == nil {
			continue
		}
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops pending loads and waits for running workers.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}
