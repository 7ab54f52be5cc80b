// Package controller implements the book lifecycle engine: the façade
// that accepts borrow/revoke/delete/dismiss/sync requests, runs each as
// an independent task on a bounded worker pool, and publishes every
// status transition into the registry.
package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/downloads"
	"github.com/lectern/lectern/internal/registry"
)

const defaultWorkers = 4

// Config carries the controller's collaborators.
type Config struct {
	Registry    *registry.Registry
	Feeds       domain.FeedLoader
	Downloader  domain.Downloader
	Coordinator *downloads.Coordinator
	Bundled     domain.BundledResolver
	DRM         domain.DRMEngine // nil: DRM fulfillment is a named failure
	DownloadDir string
	Workers     int
	Logger      *slog.Logger
}

// Controller schedules lifecycle tasks and owns the process-wide account
// and profile event streams.
type Controller struct {
	registry    *registry.Registry
	feeds       domain.FeedLoader
	downloader  domain.Downloader
	coordinator *downloads.Coordinator
	bundled     domain.BundledResolver
	drm         domain.DRMEngine
	downloadDir string
	logger      *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []workItem
	closed bool
	wg     sync.WaitGroup
	once   sync.Once

	accountEvents *Publisher[AccountEvent]
	profileEvents *Publisher[ProfileEvent]
}

// New creates a controller and starts its worker pool.
func New(cfg Config) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = downloads.NewCoordinator(cfg.Logger)
	}

	c := &Controller{
		registry:      cfg.Registry,
		feeds:         cfg.Feeds,
		downloader:    cfg.Downloader,
		coordinator:   cfg.Coordinator,
		bundled:       cfg.Bundled,
		drm:           cfg.DRM,
		downloadDir:   cfg.DownloadDir,
		logger:        cfg.Logger,
		accountEvents: NewPublisher[AccountEvent](),
		profileEvents: NewPublisher[ProfileEvent](),
	}
	c.cond = sync.NewCond(&c.mu)

	c.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go c.worker()
	}
	return c
}

// Close drains the queue and stops the worker pool. Tasks submitted
// after Close finish immediately with ErrControllerClosed.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cond.Broadcast()
		c.wg.Wait()
	})
}

// Registry returns the registry this controller publishes into.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// AccountEvents returns the account-level event stream.
func (c *Controller) AccountEvents() *Publisher[AccountEvent] { return c.accountEvents }

// ProfileEvents returns the profile-level event stream.
func (c *Controller) ProfileEvents() *Publisher[ProfileEvent] { return c.profileEvents }

// Borrow schedules the acquisition flow for one book. The returned handle
// always succeeds once a terminal status is published: borrow failures
// surface through the registry as DownloadFailed, not through the handle.
func (c *Controller) Borrow(account domain.Account, id domain.BookID, acq domain.Acquisition, entry domain.CatalogEntry) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		if err := c.runBorrow(ctx, account, id, acq, entry); err != nil {
			c.logger.Error("borrow failed", "bookID", id, "error", err)
			c.publishBorrowFailure(account, id, err)
		}
		return nil
	})
}

// Revoke schedules returning a loan or cancelling a hold. Failures both
// publish RevokeFailed and fail the handle.
func (c *Controller) Revoke(account domain.Account, id domain.BookID) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runRevoke(ctx, account, id)
	})
}

// Delete schedules removal of a book and its registry entry.
func (c *Controller) Delete(account domain.Account, id domain.BookID) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runDelete(account, id)
	})
}

// DismissBorrowFailure schedules clearing a DownloadFailed status.
func (c *Controller) DismissBorrowFailure(account domain.Account, id domain.BookID) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runDismissBorrowFailure(account, id)
	})
}

// DismissRevokeFailure schedules clearing a RevokeFailed status.
func (c *Controller) DismissRevokeFailure(account domain.Account, id domain.BookID) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runDismissRevokeFailure(account, id)
	})
}

// Sync schedules reconciliation of the server-side loan list against
// local state. Failures fail the handle.
func (c *Controller) Sync(account domain.Account) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runSync(ctx, account)
	})
}

// Login validates and stores credentials for the account, publishing the
// outcome on the account event stream.
func (c *Controller) Login(account domain.Account, creds domain.Credentials) *TaskHandle {
	return c.submit(func(ctx context.Context) error {
		return c.runLogin(ctx, account, creds)
	})
}

// Logout clears the account's stored credentials.
func (c *Controller) Logout(account domain.Account) error {
	if err := account.ClearCredentials(); err != nil {
		return err
	}
	c.logger.Info("logged out", "accountID", account.ID())
	c.accountEvents.Publish(AccountEvent{Type: AccountEventLoggedOut, AccountID: account.ID()})
	return nil
}

// SelectProfile wipes the registry and announces the new profile. The
// caller re-syncs the new profile's accounts afterwards.
func (c *Controller) SelectProfile(profileID string) {
	c.registry.ClearAll()
	c.logger.Info("profile selected", "profileID", profileID)
	c.profileEvents.Publish(ProfileEvent{Type: ProfileEventSelected, ProfileID: profileID})
}

func (c *Controller) runLogin(ctx context.Context, account domain.Account, creds domain.Credentials) error {
	provider := account.Provider()
	if provider.SupportsAuth && provider.LoginURI != "" {
		if _, err := c.feeds.FetchFeed(ctx, provider.LoginURI, &creds); err != nil {
			c.accountEvents.Publish(AccountEvent{
				Type:      AccountEventLoginFailed,
				AccountID: account.ID(),
				Err:       err,
			})
			return err
		}
	}

	if err := account.SetCredentials(creds); err != nil {
		return err
	}
	c.logger.Info("logged in", "accountID", account.ID())
	c.accountEvents.Publish(AccountEvent{Type: AccountEventLoggedIn, AccountID: account.ID()})
	return nil
}

// republishFromDatabase recomputes and publishes the resting status of a
// book, or clears the registry entry if the book no longer exists.
func (c *Controller) republishFromDatabase(account domain.Account, id domain.BookID) {
	book, ok := account.Database().Book(id)
	if !ok {
		c.registry.Clear(id)
		return
	}

	status, err := domain.StatusFromBook(book)
	if err != nil {
		c.logger.Error("cannot derive status", "bookID", id, "error", err)
		return
	}
	c.registry.Update(domain.BookWithStatus{Book: book, Status: status})
}
