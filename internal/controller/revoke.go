package controller

import (
	"context"
	"fmt"

	"github.com/lectern/lectern/internal/domain"
)

// runRevoke returns a loan or cancels a hold. On success the book ceases
// to exist in this process: both the database entry and the registry
// entry are removed. On failure a RevokeFailed status is published and
// the error still propagates to the task handle.
func (c *Controller) runRevoke(ctx context.Context, account domain.Account, id domain.BookID) error {
	err := c.revoke(ctx, account, id)
	if err != nil {
		c.logger.Error("revoke failed", "bookID", id, "error", err)
		book, ok := account.Database().Book(id)
		if !ok {
			book.ID = id
		}
		c.registry.Update(domain.BookWithStatus{
			Book:   book,
			Status: domain.StatusRevokeFailed{BookID: id, Err: err},
		})
	}
	return err
}

func (c *Controller) revoke(ctx context.Context, account domain.Account, id domain.BookID) error {
	db := account.Database()

	book, ok := db.Book(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBookNotFound, id)
	}

	c.registry.Update(domain.BookWithStatus{
		Book:   book,
		Status: domain.StatusRequestingRevoke{BookID: id},
	})

	// Only open-access loans are revocable today; every other
	// availability is an unimplemented path.
	avail, ok := book.Entry.Availability.(domain.AvailabilityOpenAccess)
	if !ok {
		return fmt.Errorf("%w: %T", domain.ErrRevokeNotSupported, book.Entry.Availability)
	}
	if avail.RevokeURI == "" {
		return domain.ErrRevokeNoURI
	}

	creds, ok := account.Credentials()
	if !ok {
		return fmt.Errorf("revoke: %w", domain.ErrAuthenticationRequired)
	}

	// The server must answer with exactly one ungrouped entry describing
	// the post-revocation state; anything else is a protocol violation.
	if _, err := c.feeds.FetchEntry(ctx, avail.RevokeURI, &creds, ""); err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}

	if err := db.Delete(id); err != nil {
		return fmt.Errorf("failed to delete revoked book: %w", err)
	}
	c.registry.Clear(id)
	c.logger.Info("book revoked", "bookID", id)
	return nil
}
