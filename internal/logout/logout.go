// Package logout broadcasts "the member is now logged out" to interested
// parts of the process, such as UI state holders or open connections.
package logout

import (
	"log/slog"
	"sync"
	"time"
)

// Reason explains why a logout was broadcast.
type Reason string

const (
	ReasonNoCredentials            Reason = "no_credentials"
	ReasonRefreshFailed            Reason = "refresh_failed"
	ReasonUnauthorizedAfterRefresh Reason = "unauthorized_after_refresh"
	ReasonExplicit                 Reason = "explicit"
)

// Event is delivered to every subscriber.
type Event struct {
	Reason Reason
	At     time.Time
}

// Notifier fans logout events out to subscribers. The zero value is ready to use.
type Notifier struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

type subscription struct {
	id uint64
	fn func(Event)
}

var defaultNotifier = &Notifier{}

// Default returns the process-wide notifier.
func Default() *Notifier {
	return defaultNotifier
}

// New creates an empty notifier.
func New() *Notifier {
	return &Notifier{}
}

// OnLogout registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (n *Notifier) OnLogout(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// EmitLogout delivers ev to every subscriber in registration order. A zero
// At is set to the current time.
func (n *Notifier) EmitLogout(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.mu.Lock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		deliver(s.fn, ev)
	}
}

// Emit is shorthand for EmitLogout(Event{Reason: reason}).
func (n *Notifier) Emit(reason Reason) {
	n.EmitLogout(Event{Reason: reason})
}

// Subscribers returns the number of registered subscribers.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func deliver(fn func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("logout subscriber panicked",
				"reason", string(ev.Reason),
				"panic", rec,
			)
		}
	}()
	fn(ev)
}
