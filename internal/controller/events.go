package controller

import (
	"sort"
	"sync"
)

// AccountEventType classifies account-level events.
type AccountEventType int

const (
	AccountEventLoggedIn AccountEventType = iota
	AccountEventLoggedOut
	AccountEventCreated
	AccountEventDeleted
	AccountEventSelected
	AccountEventLoginFailed
)

// AccountEvent is published on the controller's account stream.
type AccountEvent struct {
	Type      AccountEventType
	AccountID string
	Err       error // set for AccountEventLoginFailed
}

// ProfileEventType classifies profile-level events.
type ProfileEventType int

const (
	ProfileEventSelected ProfileEventType = iota
	ProfileEventChanged
)

// ProfileEvent is published on the controller's profile stream.
type ProfileEvent struct {
	Type      ProfileEventType
	ProfileID string
}

// Publisher is a minimal synchronous fan-out stream. Subscribers run on
// the publishing goroutine, in registration order.
type Publisher[T any] struct {
	mu     sync.Mutex
	subs   map[int]func(T)
	nextID int
}

// NewPublisher creates an empty publisher.
func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[int]func(T))}
}

// Subscribe registers a subscriber and returns a token for Unsubscribe.
func (p *Publisher[T]) Subscribe(fn func(T)) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.nextID
	p.nextID++
	p.subs[token] = fn
	return token
}

// Unsubscribe removes a subscriber.
func (p *Publisher[T]) Unsubscribe(token int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.subs, token)
}

// Publish delivers the event to every subscriber.
func (p *Publisher[T]) Publish(event T) {
	p.mu.Lock()
	tokens := make([]int, 0, len(p.subs))
	for token := range p.subs {
		tokens = append(tokens, token)
	}
	sort.Ints(tokens)
	subs := make([]func(T), 0, len(tokens))
	for _, token := range tokens {
		subs = append(subs, p.subs[token])
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}
