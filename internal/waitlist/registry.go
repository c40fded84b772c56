// internal/waitlist/registry.go
package waitlist

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrAlreadyQueued = errors.New("user already queued")
	ErrNotQueued     = errors.New("user not queued")
)

type queue struct {
	title string
	users []string
}

// Registry holds one FIFO queue of usernames per title.
// Queues are created on first enqueue and kept once empty.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*queue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*queue)}
}

func key(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Enqueue appends user to the queue for title and returns its 1-based position.
func (r *Registry) Enqueue(title, user string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(title)
	q, ok := r.queues[k]
	if !ok {
		q = &queue{title: strings.TrimSpace(title)}
		r.queues[k] = q
	}
	if slices.Contains(q.users, user) {
		return 0, fmt.Errorf("%s for %q: %w", user, q.title, ErrAlreadyQueued)
	}
	q.users = append(q.users, user)
	return len(q.users), nil
}

// DequeueHead removes and returns the first user waiting for title.
func (r *Registry) DequeueHead(title string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[key(title)]
	if !ok || len(q.users) == 0 {
		return "", false
	}
	head := q.users[0]
	q.users = slices.Delete(q.users, 0, 1)
	return head, true
}

// Head returns the first user waiting for title without removing it.
func (r *Registry) Head(title string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[key(title)]
	if !ok || len(q.users) == 0 {
		return "", false
	}
	return q.users[0], true
}

// Remove takes user out of the queue for title. Later entries move up.
func (r *Registry) Remove(title, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[key(title)]
	if !ok {
		return fmt.Errorf("%s for %q: %w", user, strings.TrimSpace(title), ErrNotQueued)
	}
	i := slices.Index(q.users, user)
	if i < 0 {
		return fmt.Errorf("%s for %q: %w", user, q.title, ErrNotQueued)
	}
	q.users = slices.Delete(q.users, i, i+1)
	return nil
}

// PositionOf returns the 1-based position of user in the queue for title.
func (r *Registry) PositionOf(title, user string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[key(title)]
	if !ok {
		return 0, false
	}
	i := slices.Index(q.users, user)
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

// PositionsFor maps every title user is waiting for to its position.
// Titles are reported with the casing of their first enqueue.
func (r *Registry) PositionsFor(user string) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, q := range r.queues {
		if i := slices.Index(q.users, user); i >= 0 {
			out[q.title] = i + 1
		}
	}
	return out
}

// Queue returns a copy of the users waiting for title, head first.
func (r *Registry) Queue(title string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[key(title)]
	if !ok {
		return []string{}
	}
	return slices.Clone(q.users)
}

// Len returns the number of users waiting for title.
func (r *Registry) Len(title string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if q, ok := r.queues[key(title)]; ok {
		return len(q.users)
	}
	return 0
}

// Titles returns every title that has ever had a queue.
func (r *Registry) Titles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q.title)
	}
	slices.Sort(out)
	return out
}
