package controller

import (
	"fmt"

	"github.com/lectern/lectern/internal/domain"
)

// runDelete removes a book outright: any live download is cancelled, the
// database entry is deleted and the registry entry is cleared. No status
// transition is published since the entry ceases to exist.
func (c *Controller) runDelete(account domain.Account, id domain.BookID) error {
	c.coordinator.Cancel(id)

	if err := account.Database().Delete(id); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", id, err)
	}
	c.registry.Clear(id)
	c.logger.Info("book deleted", "bookID", id)
	return nil
}

// runDismissBorrowFailure reverts a DownloadFailed status back to the
// book's resting state. Any other current status is left untouched.
func (c *Controller) runDismissBorrowFailure(account domain.Account, id domain.BookID) error {
	status, ok := c.registry.Status(id)
	if !ok {
		return nil
	}
	if _, failed := status.(domain.StatusDownloadFailed); !failed {
		return nil
	}

	c.republishFromDatabase(account, id)
	return nil
}

// runDismissRevokeFailure is the revoke-side counterpart, guarded on
// RevokeFailed.
func (c *Controller) runDismissRevokeFailure(account domain.Account, id domain.BookID) error {
	status, ok := c.registry.Status(id)
	if !ok {
		return nil
	}
	if _, failed := status.(domain.StatusRevokeFailed); !failed {
		return nil
	}

	c.republishFromDatabase(account, id)
	return nil
}
