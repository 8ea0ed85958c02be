package realtime

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

type handlerList struct {
	mu  sync.RWMutex
	fns []func(data []byte)
}

func (l *handlerList) add(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *handlerList) snapshot() []func([]byte) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.fns)
}

// Channel is a named subscription. Handlers survive reconnects.
type Channel struct {
	name       string
	handlers   *hashmap.Map[string, *handlerList]
	subscribed atomic.Bool
}

func newChannel(name string) *Channel {
	return &Channel{
		name:     name,
		handlers: hashmap.New[string, *handlerList](),
	}
}

func (ch *Channel) Name() string { return ch.name }

// Subscribed reports whether the server confirmed the subscription on the current connection.
func (ch *Channel) Subscribed() bool { return ch.subscribed.Load() }

// Bind registers fn for event. Handlers for the same event run in binding order
// on the client's read goroutine and receive the event data as JSON.
func (ch *Channel) Bind(event string, fn func(data []byte)) {
	list, _ := ch.handlers.GetOrInsert(event, &handlerList{})
	list.add(fn)
}

func (ch *Channel) emit(event string, data []byte) int {
	list, ok := ch.handlers.Get(event)
	if !ok {
		return 0
	}
	fns := list.snapshot()
	for _, fn := range fns {
		fn(data)
	}
	return len(fns)
}
