// Package notify fans ledger change events out to in-process subscribers,
// typically view code that re-renders charts when a cost is recorded.
package notify

import "sync"

// Notifier is a process-wide subscriber set. The zero value is not usable;
// call New.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

func New() *Notifier {
	return &Notifier{subs: make(map[int]func())}
}

// Subscribe registers fn to run after every ledger change and returns the
// matching unsubscribe function. Both are safe to call at any time,
// including from inside a notification callback.
func (n *Notifier) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Notify invokes every subscriber registered at dispatch time. The set is
// snapshotted under the lock, so a listener added or removed during dispatch
// does not affect the current pass.
func (n *Notifier) Notify() {
	n.mu.Lock()
	snapshot := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		snapshot = append(snapshot, fn)
	}
	n.mu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}

// Len reports the current number of subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
