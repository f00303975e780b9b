package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Bus is the event bus interface.
type Bus interface {
	// Publish enqueues an event without blocking. Events are dropped,
	// with a log line, if the bus is saturated or stopped.
	Publish(event Event)

	// Subscribe registers a handler for the given types. An empty type
	// list matches everything. The returned id unsubscribes.
	Subscribe(handler Handler, types ...EventType) string

	// Unsubscribe removes a subscription.
	Unsubscribe(id string)

	// Close stops dispatch and drops further events.
	Close()
}

type subscription struct {
	id      string
	types   map[EventType]struct{}
	handler Handler
}

func (s *subscription) matches(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type bus struct {
	logger hclog.Logger

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool

	queue chan Event
	done  chan struct{}
}

// NewBus creates and starts an event bus.
func NewBus(logger hclog.Logger) Bus {
	b := &bus{
		logger: logger,
		subs:   make(map[string]*subscription),
		queue:  make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *bus) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		for _, sub := range b.subs {
			if sub.matches(ev.Type) {
				sub.handler(ev)
			}
		}
		b.mu.RUnlock()
	}
}

func (b *bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event bus saturated, dropping event", "type", event.Type)
	}
}

func (b *bus) Subscribe(handler Handler, types ...EventType) string {
	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.id] = sub
	return sub.id
}

func (b *bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done
}
