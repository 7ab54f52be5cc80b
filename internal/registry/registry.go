// Package registry holds the concurrent, observable map of book statuses
// that every consumer reads. It is the single source of truth for what is
// currently known about each book in this process.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/lectern/lectern/internal/domain"
)

// Event is delivered to subscribers on every registry mutation. Status is
// nil when the entry was cleared.
type Event struct {
	ID     domain.BookID
	Status domain.BookStatus
}

// Subscriber receives registry events synchronously on the goroutine that
// performed the mutation.
type Subscriber func(Event)

// Registry maps a book ID to its most recent BookWithStatus. Writes are
// last-write-wins per key; there are no merge semantics.
type Registry struct {
	mu     sync.RWMutex
	books  map[domain.BookID]domain.BookWithStatus
	subs   map[int]Subscriber
	nextID int
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		books:  make(map[domain.BookID]domain.BookWithStatus),
		subs:   make(map[int]Subscriber),
		logger: logger,
	}
}

// Update replaces the entry for the book and notifies subscribers.
func (r *Registry) Update(bws domain.BookWithStatus) {
	id := bws.Book.ID

	r.mu.Lock()
	r.books[id] = bws
	subs := r.snapshotSubscribers()
	r.mu.Unlock()

	r.logger.Debug("registry update", "bookID", id, "status", domain.StatusName(bws.Status))
	for _, sub := range subs {
		sub(Event{ID: id, Status: bws.Status})
	}
}

// Clear removes the entry for the book entirely and notifies subscribers
// with a nil status. Used when a book is deleted or revoked.
func (r *Registry) Clear(id domain.BookID) {
	r.mu.Lock()
	_, existed := r.books[id]
	delete(r.books, id)
	subs := r.snapshotSubscribers()
	r.mu.Unlock()

	if !existed {
		return
	}

	r.logger.Debug("registry clear", "bookID", id)
	for _, sub := range subs {
		sub(Event{ID: id})
	}
}

// ClearAll wipes every entry. Used when switching profiles. Subscribers
// are not notified per-entry.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.books = make(map[domain.BookID]domain.BookWithStatus)
	r.mu.Unlock()

	r.logger.Debug("registry cleared")
}

// Status returns the current status for the book, if present.
func (r *Registry) Status(id domain.BookID) (domain.BookStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bws, ok := r.books[id]
	if !ok {
		return nil, false
	}
	return bws.Status, true
}

// BookWithStatus returns the full registry entry for the book, if present.
func (r *Registry) BookWithStatus(id domain.BookID) (domain.BookWithStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bws, ok := r.books[id]
	return bws, ok
}

// All returns a snapshot of every entry, ordered by status priority then
// title.
func (r *Registry) All() []domain.BookWithStatus {
	r.mu.RLock()
	all := make([]domain.BookWithStatus, 0, len(r.books))
	for _, bws := range r.books {
		all = append(all, bws)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		pi, pj := all[i].Status.Priority(), all[j].Status.Priority()
		if pi != pj {
			return pi > pj
		}
		return all[i].Book.Entry.Title < all[j].Book.Entry.Title
	})
	return all
}

// Subscribe registers a subscriber and returns a token for Unsubscribe.
// The subscriber runs synchronously on whichever goroutine performs each
// mutation.
func (r *Registry) Subscribe(sub Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.nextID
	r.nextID++
	r.subs[token] = sub
	return token
}

// Unsubscribe removes a previously registered subscriber.
func (r *Registry) Unsubscribe(token int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, token)
}

// snapshotSubscribers copies the subscriber set in registration order.
// Callers must hold r.mu.
func (r *Registry) snapshotSubscribers() []Subscriber {
	if len(r.subs) == 0 {
		return nil
	}
	tokens := make([]int, 0, len(r.subs))
	for token := range r.subs {
		tokens = append(tokens, token)
	}
	sort.Ints(tokens)

	subs := make([]Subscriber, 0, len(tokens))
	for _, token := range tokens {
		subs = append(subs, r.subs[token])
	}
	return subs
}
