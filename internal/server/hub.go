package server

import (
	"sync"

	"github.com/me/smpsched/pkg/model"
)

// subscriberBuffer is the number of events a slow SSE client may lag
// behind before events are dropped for it.
const subscriberBuffer = 64

// eventHub fans scheduler events out to SSE subscribers. It implements
// scheduler.Observer and never blocks the scheduler.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan model.Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan model.Event]struct{})}
}

// subscribe registers a new subscriber. The returned cancel func must be
// called to release it.
func (h *eventHub) subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// ObserveEvent delivers ev to every subscriber with room in its buffer.
func (h *eventHub) ObserveEvent(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
