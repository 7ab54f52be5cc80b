// Package downloads provides the HTTP downloader used for fulfillment
// and the coordinator that tracks the single live transfer per book.
package downloads

import (
	"log/slog"
	"sync"

	"github.com/lectern/lectern/internal/domain"
)

// Coordinator tracks at most one live download handle per book.
type Coordinator struct {
	mu      sync.Mutex
	handles map[domain.BookID]domain.DownloadHandle
	logger  *slog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		handles: make(map[domain.BookID]domain.DownloadHandle),
		logger:  logger,
	}
}

// Add records the live handle for a book. If a handle is already live for
// that book it is cancelled and superseded, so a second borrow for the
// same book replaces the first transfer instead of orphaning it.
func (c *Coordinator) Add(id domain.BookID, handle domain.DownloadHandle) {
	c.mu.Lock()
	old, existed := c.handles[id]
	c.handles[id] = handle
	c.mu.Unlock()

	if existed {
		c.logger.Warn("superseding live download", "bookID", id)
		old.Cancel()
	}
}

// Remove discards the handle for a book, but only if it is still the
// recorded one; a superseded handle must not evict its replacement.
func (c *Coordinator) Remove(id domain.BookID, handle domain.DownloadHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.handles[id]; ok && current == handle {
		delete(c.handles, id)
	}
}

// Cancel stops and discards the live transfer for a book, if any.
func (c *Coordinator) Cancel(id domain.BookID) {
	c.mu.Lock()
	handle, ok := c.handles[id]
	delete(c.handles, id)
	c.mu.Unlock()

	if ok {
		c.logger.Debug("cancelling download", "bookID", id)
		handle.Cancel()
	}
}

// Handle returns the live handle for a book, if any.
func (c *Coordinator) Handle(id domain.BookID) (domain.DownloadHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.handles[id]
	return handle, ok
}
