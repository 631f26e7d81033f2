// Package toast holds short-lived user notifications. Any component may raise
// one; each toast removes itself after the notifier's TTL.
package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Danger  Severity = "danger"
)

const DefaultTTL = 5 * time.Second

type Toast struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type EventType string

const (
	Shown     EventType = "shown"
	Dismissed EventType = "dismissed"
)

type Event struct {
	Type  EventType `json:"event"`
	Toast Toast     `json:"toast"`
}

// Notifier is an ordered, self-expiring toast queue (oldest first).
type Notifier struct {
	mu     sync.Mutex
	ttl    time.Duration
	toasts []Toast
	timers map[string]*time.Timer
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewNotifier(ttl time.Duration) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Notifier{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
		subs:   make(map[int]chan Event),
	}
}

// Show appends a toast and schedules its dismissal. It never blocks on the
// timer and returns the new id immediately.
func (n *Notifier) Show(title, message string, severity Severity) string {
	if severity == "" {
		severity = Info
	}
	t := Toast{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return t.ID
	}
	n.toasts = append(n.toasts, t)
	n.timers[t.ID] = time.AfterFunc(n.ttl, func() { n.Dismiss(t.ID) })
	n.publish(Event{Type: Shown, Toast: t})
	return t.ID
}

// Dismiss removes the toast with id. Unknown ids are ignored.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, t := range n.toasts {
		if t.ID != id {
			continue
		}
		n.toasts = append(n.toasts[:i], n.toasts[i+1:]...)
		if timer, ok := n.timers[id]; ok {
			timer.Stop()
			delete(n.timers, id)
		}
		n.publish(Event{Type: Dismissed, Toast: t})
		return
	}
}

func (n *Notifier) List() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Toast, len(n.toasts))
	copy(out, n.toasts)
	return out
}

// Subscribe returns a stream of notifier events and a cancel func. Slow
// subscribers miss events instead of blocking Show.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Event, 16)
	id := n.nextID
	n.nextID++
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops pending timers and ends all subscriptions.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// publish must be called with n.mu held.
func (n *Notifier) publish(ev Event) {
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
