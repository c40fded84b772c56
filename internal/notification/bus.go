// internal/notification/bus.go
package notification

import (
	"slices"
	"sync"
)

// UserObserver buffers notifications until they are drained.
type UserObserver struct {
	mu     sync.Mutex
	user   string
	unread []Notification
}

// NewUserObserver creates an observer for user with an empty buffer.
func NewUserObserver(user string) *UserObserver {
	return &UserObserver{user: user}
}

func (o *UserObserver) Update(n Notification) {
	o.mu.Lock()
	o.unread = append(o.unread, n)
	o.mu.Unlock()
}

// Drain returns the buffered notifications and empties the buffer.
func (o *UserObserver) Drain() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.unread
	o.unread = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Pending returns the number of buffered notifications.
func (o *UserObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.unread)
}

type mailbox struct {
	mu       sync.Mutex
	inbox    []Notification
	observer Observer
}

// Bus stores every notification in its recipient's inbox and delivers it
// to the recipient's observer when one is subscribed. Each user has an
// independent mailbox lock.
type Bus struct {
	mu    sync.RWMutex
	boxes map[string]*mailbox
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{boxes: make(map[string]*mailbox)}
}

func (b *Bus) box(user string) *mailbox {
	b.mu.RLock()
	m, ok := b.boxes[user]
	b.mu.RUnlock()
	if ok {
		return m
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok = b.boxes[user]; !ok {
		m = &mailbox{}
		b.boxes[user] = m
	}
	return m
}

func (b *Bus) existing(user string) (*mailbox, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.boxes[user]
	return m, ok
}

// Subscribe attaches a UserObserver for user. It reports false and changes
// nothing when user already has an observer.
func (b *Bus) Subscribe(user string) bool {
	return b.Attach(user, NewUserObserver(user))
}

// Attach installs obs as the observer for user unless one is already present.
func (b *Bus) Attach(user string, obs Observer) bool {
	m := b.box(user)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.observer != nil {
		return false
	}
	m.observer = obs
	return true
}

// Unsubscribe detaches the observer of user, discarding its unread buffer.
// It reports false when user had none.
func (b *Bus) Unsubscribe(user string) bool {
	m, ok := b.existing(user)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.observer == nil {
		return false
	}
	m.observer = nil
	return true
}

// Subscribed reports whether user currently has an observer.
func (b *Bus) Subscribed(user string) bool {
	m, ok := b.existing(user)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observer != nil
}

// Publish appends n to the recipient's inbox and hands it to the observer
// subscribed at this moment, if any. It reports whether it was delivered live.
func (b *Bus) Publish(n Notification) bool {
	m := b.box(n.Recipient)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inbox = append(m.inbox, n)
	if m.observer == nil {
		return false
	}
	m.observer.Update(n)
	return true
}

// DrainUnread returns and clears the unread buffer of user's observer.
// Users without a draining observer get an empty slice.
func (b *Bus) DrainUnread(user string) []Notification {
	m, ok := b.existing(user)
	if !ok {
		return []Notification{}
	}
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()

	if d, ok := obs.(interface{ Drain() []Notification }); ok {
		return d.Drain()
	}
	return []Notification{}
}

// Inbox returns a copy of every notification ever published to user,
// oldest first, unless cleared.
func (b *Bus) Inbox(user string) []Notification {
	m, ok := b.existing(user)
	if !ok {
		return []Notification{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.inbox)
	if out == nil {
		out = []Notification{}
	}
	return out
}

// ClearInbox empties user's inbox. The observer buffer is untouched.
func (b *Bus) ClearInbox(user string) {
	m, ok := b.existing(user)
	if !ok {
		return
	}
	m.mu.Lock()
	m.inbox = nil
	m.mu.Unlock()
}
