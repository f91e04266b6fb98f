// Package state holds the client-side reconciliation layer: the components
// that keep chat identity, transcripts, document status, and retrieval
// selection consistent between memory, the durable cache, and the backend.
package state

import "sync"

// notifier fans out "state changed" callbacks to subscribers. Components
// embed it and fire notify after releasing their own lock, so subscribers
// are free to read snapshots from inside the callback.
type notifier struct {
	subMu sync.Mutex
	subs  []func()
}

// Subscribe registers a callback invoked after every state change.
// Subscribers must not mutate component state from the callback.
func (n *notifier) Subscribe(fn func()) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *notifier) notify() {
	n.subMu.Lock()
	subs := make([]func(), len(n.subs))
	copy(subs, n.subs)
	n.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
