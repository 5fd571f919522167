package assetcache

import (
	"sync"

	"github.com/milk9111/worlded/mapdoc"
)

// Event reports that a load settled. Err is set when the load failed.
type Event struct {
	Handle *Handle
	Doc    *mapdoc.Map
	Err    error
}

// eventQueue is a FIFO filled by workers and drained by the owner.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
}

func (q *eventQueue) push(evt Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
}

// drain returns all events and clears the queue.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
