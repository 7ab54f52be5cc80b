package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/feeds"
)

// runBorrow orchestrates the full acquisition flow for one book: persist
// the entry, negotiate the loan for the chosen acquisition, then fulfill
// it into a local artifact. Any returned error has already left the book
// in the database; the caller converts it into a DownloadFailed status.
func (c *Controller) runBorrow(ctx context.Context, account domain.Account, id domain.BookID, acq domain.Acquisition, entry domain.CatalogEntry) error {
	db := account.Database()

	book, err := db.Create(entry)
	if err != nil {
		return fmt.Errorf("failed to create database entry: %w", err)
	}

	c.registry.Update(domain.BookWithStatus{
		Book:   book,
		Status: domain.StatusRequestingLoan{BookID: id},
	})

	if isBundledURI(acq.URI) {
		return c.runBorrowBundled(ctx, account, book, acq)
	}

	switch acq.Relation {
	case domain.AcquisitionBorrow:
		return c.runBorrowLoan(ctx, account, book, acq)

	case domain.AcquisitionGeneric:
		// Generic acquisitions against DRM-gated providers are an
		// unimplemented path; fail loudly rather than fulfill something
		// the reader cannot open.
		if account.Provider().RequiresDRM {
			return fmt.Errorf("generic acquisition on DRM provider: %w", domain.ErrDRMUnsupported)
		}
		return c.runFulfill(ctx, account, book)

	case domain.AcquisitionOpenAccess:
		return c.runFulfill(ctx, account, book)

	default:
		return fmt.Errorf("%w: relation %q is not borrowable", domain.ErrNoUsableAcquisition, acq.Relation)
	}
}

// runBorrowLoan performs the authenticated borrow re-fetch and dispatches
// on the availability the server reports back.
func (c *Controller) runBorrowLoan(ctx context.Context, account domain.Account, book domain.Book, acq domain.Acquisition) error {
	creds, ok := account.Credentials()
	if !ok {
		return domain.ErrAuthenticationRequired
	}

	refreshed, err := c.feeds.FetchEntry(ctx, acq.URI, &creds, http.MethodPut)
	if err != nil {
		return classifyBorrowFetchError(err)
	}

	book, err = account.Database().Create(refreshed)
	if err != nil {
		return fmt.Errorf("failed to persist refreshed entry: %w", err)
	}

	switch avail := refreshed.Availability.(type) {
	case domain.AvailabilityHeld:
		c.registry.Update(domain.BookWithStatus{Book: book, Status: domain.StatusHeld{
			BookID:        book.ID,
			QueuePosition: avail.QueuePosition,
			Start:         avail.Start,
			End:           avail.End,
			Revocable:     avail.RevokeURI != "",
		}})
		return nil

	case domain.AvailabilityHeldReady:
		c.registry.Update(domain.BookWithStatus{Book: book, Status: domain.StatusHeldReady{
			BookID:    book.ID,
			End:       avail.End,
			Revocable: avail.RevokeURI != "",
		}})
		return nil

	case domain.AvailabilityHoldable:
		c.registry.Update(domain.BookWithStatus{Book: book, Status: domain.StatusHoldable{BookID: book.ID}})
		return nil

	case domain.AvailabilityLoaned, domain.AvailabilityOpenAccess:
		return c.runFulfill(ctx, account, book)

	case domain.AvailabilityLoanable:
		// The server just granted or queued the loan; reporting Loanable
		// violates the borrow contract.
		return fmt.Errorf("%w: borrow re-fetch reported loanable", domain.ErrBadBorrowFeed)

	case domain.AvailabilityRevoked:
		return fmt.Errorf("%w: on borrow re-fetch", domain.ErrUnexpectedRevoked)

	default:
		return fmt.Errorf("%w: unknown availability %T", domain.ErrBadBorrowFeed, avail)
	}
}

// runBorrowBundled copies app-shipped content straight into the artifact
// slot, reporting progress exactly as a network fulfillment would.
func (c *Controller) runBorrowBundled(ctx context.Context, account domain.Account, book domain.Book, acq domain.Acquisition) error {
	src, size, err := c.bundled.Resolve(acq.URI)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchingBookFailed, err)
	}
	defer src.Close()

	c.registry.Update(domain.BookWithStatus{
		Book:   book,
		Status: domain.StatusRequestingDownload{BookID: book.ID},
	})

	out, err := os.CreateTemp(c.downloadDir, "lectern-bundled-*")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchingBookFailed, err)
	}
	path := out.Name()

	limiter := c.newProgressLimiter(book)
	limiter.started(size)

	if err := copyWithProgress(ctx, out, src, size, limiter.progress); err != nil {
		out.Close()
		os.Remove(path)
		if errors.Is(err, context.Canceled) {
			c.republishFromDatabase(account, book.ID)
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrFetchingBookFailed, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %v", domain.ErrFetchingBookFailed, err)
	}

	return c.saveArtifact(account, book.ID, path)
}

type downloadResult struct {
	contentType string
	path        string
	err         error
	cancelled   bool
}

// runFulfill converts the entry's first fulfillable acquisition into a
// local artifact via the download coordinator.
func (c *Controller) runFulfill(ctx context.Context, account domain.Account, book domain.Book) error {
	acq, ok := fulfillableAcquisition(book.Entry)
	if !ok {
		return domain.ErrNoUsableAcquisition
	}

	c.registry.Update(domain.BookWithStatus{
		Book: book,
		Status: domain.StatusRequestingDownload{
			BookID:      book.ID,
			ExpectedEnd: loanEnd(book.Entry.Availability),
		},
	})

	var creds *domain.Credentials
	if stored, ok := account.Credentials(); ok {
		creds = &stored
	}

	limiter := c.newProgressLimiter(book)
	result := make(chan downloadResult, 1)

	handle := c.downloader.Download(ctx, acq.URI, creds, domain.DownloadEvents{
		OnStarted:  limiter.started,
		OnProgress: limiter.progress,
		OnCompleted: func(contentType, path string) {
			result <- downloadResult{contentType: contentType, path: path}
		},
		OnFailed: func(err error) {
			result <- downloadResult{err: err}
		},
		OnCancelled: func() {
			result <- downloadResult{cancelled: true}
		},
	})

	c.coordinator.Add(book.ID, handle)
	defer c.coordinator.Remove(book.ID, handle)

	res := <-result
	switch {
	case res.cancelled:
		// Cancellation is not a failure: fall back to whatever the
		// database says the book's resting state is.
		c.republishFromDatabase(account, book.ID)
		return nil

	case res.err != nil:
		return classifyDownloadError(acq, res.err)
	}

	if domain.IsDRMContentType(res.contentType) {
		return c.fulfillDRM(ctx, account, book, res.path)
	}
	return c.saveArtifact(account, book.ID, res.path)
}

// fulfillDRM hands a fulfillment token to the DRM engine. Without an
// engine this is a named failure, never a silent success.
func (c *Controller) fulfillDRM(ctx context.Context, account domain.Account, book domain.Book, tokenPath string) error {
	if c.drm == nil {
		os.Remove(tokenPath)
		return domain.ErrDRMUnsupported
	}

	artifact, rights, err := c.drm.Fulfill(ctx, tokenPath)
	os.Remove(tokenPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchingLicenseFailed, err)
	}

	db := account.Database()
	if _, err := db.SetRights(book.ID, rights); err != nil {
		return fmt.Errorf("failed to persist rights: %w", err)
	}
	return c.saveArtifact(account, book.ID, artifact)
}

// saveArtifact records the finished file and republishes the derived
// status, completing the borrow.
func (c *Controller) saveArtifact(account domain.Account, id domain.BookID, path string) error {
	book, err := account.Database().SetArtifact(id, path)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to persist artifact: %w", err)
	}

	status, err := domain.StatusFromBook(book)
	if err != nil {
		return err
	}
	c.registry.Update(domain.BookWithStatus{Book: book, Status: status})
	c.logger.Info("book downloaded", "bookID", id, "path", path)
	return nil
}

// publishBorrowFailure converts a borrow error into the terminal
// DownloadFailed status. The failure stays inspectable in the registry
// until dismissed.
func (c *Controller) publishBorrowFailure(account domain.Account, id domain.BookID, cause error) {
	book, ok := account.Database().Book(id)
	if !ok {
		// Keep the registry keyed by the real BookID even when the
		// database entry never materialized.
		book.ID = id
	}

	var feedErr *domain.FeedError
	var problem *domain.ProblemDetail
	if errors.As(cause, &feedErr) {
		problem = feedErr.Problem
	}

	c.registry.Update(domain.BookWithStatus{
		Book: book,
		Status: domain.StatusDownloadFailed{
			BookID:  id,
			Err:     cause,
			Problem: problem,
		},
	})
}

// classifyBorrowFetchError maps borrow re-fetch failures onto the error
// taxonomy: loan limits come from the server's problem detail, shape
// violations mean a bad feed, anything else is a plain fetch failure.
func classifyBorrowFetchError(err error) error {
	var feedErr *domain.FeedError
	if errors.As(err, &feedErr) && feedErr.IsLoanLimit() {
		return fmt.Errorf("%w: %v", domain.ErrLoanLimitReached, err)
	}
	if errors.Is(err, feeds.ErrFeedShape) {
		return fmt.Errorf("%w: %v", domain.ErrBadBorrowFeed, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrFetchingBorrowFeed, err)
}

// classifyDownloadError assigns blame by declared content type so the UI
// can distinguish a failed license fetch from a failed book fetch.
func classifyDownloadError(acq domain.Acquisition, err error) error {
	var feedErr *domain.FeedError
	if errors.As(err, &feedErr) && feedErr.IsLoanLimit() {
		return fmt.Errorf("%w: %v", domain.ErrLoanLimitReached, err)
	}
	if domain.IsDRMContentType(acq.Type) {
		return fmt.Errorf("%w: %v", domain.ErrFetchingLicenseFailed, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrFetchingBookFailed, err)
}

// fulfillableAcquisition returns the first acquisition a download can be
// started from.
func fulfillableAcquisition(entry domain.CatalogEntry) (domain.Acquisition, bool) {
	for _, acq := range entry.Acquisitions {
		switch acq.Relation {
		case domain.AcquisitionGeneric, domain.AcquisitionOpenAccess:
			return acq, true
		}
	}
	return domain.Acquisition{}, false
}

func isBundledURI(uri string) bool {
	parsed, err := url.Parse(uri)
	return err == nil && parsed.Scheme == domain.BundledScheme
}

func loanEnd(avail domain.Availability) *time.Time {
	if loaned, ok := avail.(domain.AvailabilityLoaned); ok {
		return loaned.End
	}
	return nil
}

// progressLimiter rate-limits DownloadInProgress publications: one at
// zero bytes, then one per tenth of the expected size, so observers see
// at most eleven updates however many raw callbacks arrive.
type progressLimiter struct {
	controller *Controller
	book       domain.Book

	mu       sync.Mutex
	last     int64
	expected int64
}

func (c *Controller) newProgressLimiter(book domain.Book) *progressLimiter {
	return &progressLimiter{controller: c, book: book}
}

func (p *progressLimiter) started(expected int64) {
	p.mu.Lock()
	p.expected = expected
	p.last = 0
	p.mu.Unlock()

	p.publish(0, expected)
}

func (p *progressLimiter) progress(current, expected int64) {
	p.mu.Lock()
	if expected <= 0 {
		expected = p.expected
	}
	step := expected / 10
	if step <= 0 || current <= p.last+step {
		p.mu.Unlock()
		return
	}
	p.last = current
	p.mu.Unlock()

	p.publish(current, expected)
}

func (p *progressLimiter) publish(current, expected int64) {
	p.controller.registry.Update(domain.BookWithStatus{
		Book: p.book,
		Status: domain.StatusDownloadInProgress{
			BookID:        p.book.ID,
			CurrentBytes:  current,
			ExpectedBytes: expected,
		},
	})
}

// copyWithProgress copies src to dst in chunks, honouring context
// cancellation between chunks.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, expected int64, onProgress func(current, expected int64)) error {
	buf := make([]byte, 32*1024)
	var current int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			current += int64(n)
			onProgress(current, expected)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
