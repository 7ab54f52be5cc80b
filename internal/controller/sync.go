package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lectern/lectern/internal/domain"
)

// runSync reconciles the server's authoritative loans feed against local
// state: every feed entry is created or updated locally, and every local
// book absent from the feed is removed. Accounts without authentication
// support or stored credentials are silently skipped.
func (c *Controller) runSync(ctx context.Context, account domain.Account) error {
	provider := account.Provider()
	if !provider.SupportsAuth || provider.LoansURI == "" {
		c.logger.Debug("sync skipped: provider has no authenticated loans feed", "accountID", account.ID())
		return nil
	}
	creds, ok := account.Credentials()
	if !ok {
		c.logger.Debug("sync skipped: no credentials", "accountID", account.ID())
		return nil
	}

	feed, err := c.feeds.FetchFeed(ctx, provider.LoansURI, &creds)
	if err != nil {
		var feedErr *domain.FeedError
		if errors.As(err, &feedErr) && feedErr.Status == http.StatusUnauthorized {
			// Stale credentials: drop them and report success. The next
			// authenticated operation forces a fresh login.
			c.logger.Warn("sync got 401, clearing credentials", "accountID", account.ID())
			return account.ClearCredentials()
		}
		return fmt.Errorf("failed to fetch loans feed: %w", err)
	}

	db := account.Database()
	seen := make(map[domain.BookID]bool, len(feed.Entries))

	for _, entry := range feed.Entries {
		// A revoked entry has no resting state to persist: run it through
		// the revoke path so observers get the same notifications as an
		// explicit return, then drop it locally.
		if _, revoked := entry.Availability.(domain.AvailabilityRevoked); revoked {
			id := entry.BookID()
			if _, exists := db.Book(id); exists {
				if err := c.runRevoke(ctx, account, id); err != nil {
					c.logger.Warn("revoke during sync failed", "bookID", id, "error", err)
				}
				if err := db.Delete(id); err != nil {
					return fmt.Errorf("failed to delete revoked book %s: %w", id, err)
				}
				c.registry.Clear(id)
			}
			continue
		}

		book, err := db.Create(entry)
		if err != nil {
			return fmt.Errorf("failed to persist synced entry %s: %w", entry.ID, err)
		}
		seen[book.ID] = true

		status, err := domain.StatusFromBook(book)
		if err != nil {
			return err
		}
		c.registry.Update(domain.BookWithStatus{Book: book, Status: status})
	}

	// Everything local but absent from the feed no longer exists
	// server-side. Books the server last reported as revoked go through
	// the revoke path so observers get the same notifications as an
	// explicit return.
	for _, id := range db.Books() {
		if seen[id] {
			continue
		}

		if book, ok := db.Book(id); ok {
			if _, revoked := book.Entry.Availability.(domain.AvailabilityRevoked); revoked {
				if err := c.runRevoke(ctx, account, id); err != nil {
					c.logger.Warn("revoke during sync failed", "bookID", id, "error", err)
				}
			}
		}

		if err := db.Delete(id); err != nil {
			return fmt.Errorf("failed to delete stale book %s: %w", id, err)
		}
		c.registry.Clear(id)
	}

	c.logger.Info("sync complete", "accountID", account.ID(), "books", len(seen))
	return nil
}
