package engine

import (
	"sync"

	"github.com/roach88/galed/internal/ir"
)

// outbox is a FIFO of committed events awaiting collection.
//
// The engine performs no I/O; collaborators (journal, metrics) drain the
// outbox after each mutation. Only committed events are ever pushed, so a
// failed mutation leaves the outbox untouched.
//
// The outbox is unbounded; a caller that never drains it keeps every event.
type outbox struct {
	mu     sync.Mutex
	events []ir.Event
}

func newOutbox() *outbox {
	return &outbox{events: make([]ir.Event, 0, 16)}
}

// push appends events in commit order.
func (o *outbox) push(events ...ir.Event) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, events...)
}

// drain removes and returns every pending event.
func (o *outbox) drain() []ir.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.events) == 0 {
		return nil
	}
	out := o.events
	o.events = make([]ir.Event, 0, 16)
	return out
}
