// Package notifier pings SSE streams when a session's view changes.
package notifier

import "sync"

// Notifier fans out pings to listeners grouped by session id. Listeners
// receive an empty struct and re-read the session view; pings coalesce
// while a listener is busy.
type Notifier struct {
	mu     sync.RWMutex
	topics map[string]map[chan struct{}]struct{}
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{
		topics: make(map[string]map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel pinged whenever session id changes. The
// caller must Unsubscribe when its stream ends.
func (n *Notifier) Subscribe(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	listeners, ok := n.topics[id]
	if !ok {
		listeners = make(map[chan struct{}]struct{})
		n.topics[id] = listeners
	}
	listeners[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (n *Notifier) Unsubscribe(id string, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	listeners := n.topics[id]
	if _, ok := listeners[ch]; !ok {
		return
	}
	delete(listeners, ch)
	if len(listeners) == 0 {
		delete(n.topics, id)
	}
	close(ch)
}

// Broadcast pings the listeners of session id.
func (n *Notifier) Broadcast(id string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ping(n.topics[id])
}

// BroadcastAll pings every listener, for changes shared by all sessions
// such as the app process log.
func (n *Notifier) BroadcastAll() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, listeners := range n.topics {
		ping(listeners)
	}
}

// Listeners returns the number of open streams.
func (n *Notifier) Listeners() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, listeners := range n.topics {
		total += len(listeners)
	}
	return total
}

func ping(listeners map[chan struct{}]struct{}) {
	for ch := range listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
