package assetcache

import (
	"sync"

	"github.com/milk9111/worlded/mapdoc"
)

// State is the load state of a cached document.
type State int

const (
	NotRequested State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not-requested"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is the shared cache entry for one canonical path. The reference
// count is owned by the Cache; the load result is written once by a worker.
type Handle struct {
	path string

	mu    sync.Mutex
	state State
	doc   *mapdoc.Map
	err   error
	done  chan struct{}

	// guarded by Cache.mu
	refs int
}

func newHandle(path string) *Handle {
	return &Handle{path: path, done: make(chan struct{})}
}

// Path is the canonical absolute path of the document.
func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Doc returns the loaded document, or nil unless the state is Ready.
func (h *Handle) Doc() *mapdoc.Map {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc
}

// Err returns the sticky load failure.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the load has settled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Settled reports whether the handle is Ready or Failed.
func (h *Handle) Settled() bool {
	s := h.State()
	return s == Ready || s == Failed
}

func (h *Handle) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != NotRequested {
		return false
	}
	h.state = Loading
	return true
}

// record stores the load result. Done is closed separately once the
// completion event is queued.
func (h *Handle) record(doc *mapdoc.Map, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state, h.err = Failed, err
	} else {
		h.state, h.doc = Ready, doc
	}
}
