package domain

import (
	"fmt"
	"time"
)

// BookStatus is the transient, in-memory lifecycle state of a book. It is
// a closed union, never persisted, and recomputed from the persisted Book
// plus any in-flight task context.
type BookStatus interface {
	isBookStatus()

	// ID returns the book this status belongs to.
	ID() BookID

	// Priority orders statuses for display; higher values sort first.
	Priority() int
}

// StatusLoanable indicates the book may be borrowed.
type StatusLoanable struct {
	BookID BookID
}

// StatusHoldable indicates the book may be reserved.
type StatusHoldable struct {
	BookID BookID
}

// StatusHeld indicates the user holds a reservation on the book.
type StatusHeld struct {
	BookID        BookID
	QueuePosition *int
	Start         *time.Time
	End           *time.Time
	Revocable     bool
}

// StatusHeldReady indicates a hold has become available for checkout.
type StatusHeldReady struct {
	BookID    BookID
	End       *time.Time
	Revocable bool
}

// StatusRequestingLoan indicates a borrow task is negotiating the loan.
type StatusRequestingLoan struct {
	BookID BookID
}

// StatusRequestingDownload indicates fulfillment is about to begin.
type StatusRequestingDownload struct {
	BookID      BookID
	ExpectedEnd *time.Time // loan expiry, when known
}

// StatusDownloadInProgress reports running download progress.
type StatusDownloadInProgress struct {
	BookID        BookID
	CurrentBytes  int64
	ExpectedBytes int64
}

// StatusDownloaded indicates a finished artifact exists locally.
type StatusDownloaded struct {
	BookID     BookID
	Returnable bool
}

// StatusDownloadFailed is the terminal state of a failed borrow or
// fulfillment. Err carries the task error; Problem carries any
// server-supplied problem detail.
type StatusDownloadFailed struct {
	BookID  BookID
	Err     error
	Problem *ProblemDetail
}

// StatusRequestingRevoke indicates a revoke task is in flight.
type StatusRequestingRevoke struct {
	BookID BookID
}

// StatusRevoked indicates the loan or hold was revoked server-side.
type StatusRevoked struct {
	BookID BookID
}

// StatusRevokeFailed is the terminal state of a failed revoke.
type StatusRevokeFailed struct {
	BookID BookID
	Err    error
}

func (StatusLoanable) isBookStatus()           {}
func (StatusHoldable) isBookStatus()           {}
func (StatusHeld) isBookStatus()               {}
func (StatusHeldReady) isBookStatus()          {}
func (StatusRequestingLoan) isBookStatus()     {}
func (StatusRequestingDownload) isBookStatus() {}
func (StatusDownloadInProgress) isBookStatus() {}
func (StatusDownloaded) isBookStatus()         {}
func (StatusDownloadFailed) isBookStatus()     {}
func (StatusRequestingRevoke) isBookStatus()   {}
func (StatusRevoked) isBookStatus()            {}
func (StatusRevokeFailed) isBookStatus()       {}

func (s StatusLoanable) ID() BookID           { return s.BookID }
func (s StatusHoldable) ID() BookID           { return s.BookID }
func (s StatusHeld) ID() BookID               { return s.BookID }
func (s StatusHeldReady) ID() BookID          { return s.BookID }
func (s StatusRequestingLoan) ID() BookID     { return s.BookID }
func (s StatusRequestingDownload) ID() BookID { return s.BookID }
func (s StatusDownloadInProgress) ID() BookID { return s.BookID }
func (s StatusDownloaded) ID() BookID         { return s.BookID }
func (s StatusDownloadFailed) ID() BookID     { return s.BookID }
func (s StatusRequestingRevoke) ID() BookID   { return s.BookID }
func (s StatusRevoked) ID() BookID            { return s.BookID }
func (s StatusRevokeFailed) ID() BookID       { return s.BookID }

// Priority values group the lifecycle into bands: active transfers first,
// then failures needing attention, then resting states.
func (StatusDownloadInProgress) Priority() int { return 60 }
func (StatusRequestingDownload) Priority() int { return 55 }
func (StatusRequestingLoan) Priority() int     { return 55 }
func (StatusRequestingRevoke) Priority() int   { return 55 }
func (StatusDownloadFailed) Priority() int     { return 50 }
func (StatusRevokeFailed) Priority() int       { return 50 }
func (StatusHeldReady) Priority() int          { return 40 }
func (StatusHeld) Priority() int               { return 35 }
func (StatusDownloaded) Priority() int         { return 30 }
func (StatusLoanable) Priority() int           { return 20 }
func (StatusHoldable) Priority() int           { return 20 }
func (StatusRevoked) Priority() int            { return 10 }

// StatusFromBook derives the resting status of a persisted book: never a
// "requesting loan/revoke" or failure state, those exist only while a
// task is driving them.
//
// A book with a local artifact is always Downloaded. Otherwise the
// catalog availability maps onto the matching resting state, with Loaned
// and OpenAccess mapping to RequestingDownload since the loan exists but
// fulfillment has not produced an artifact yet. A Revoked availability
// has no resting projection: the server must not report it for a book
// still in the database.
func StatusFromBook(book Book) (BookStatus, error) {
	avail := book.Entry.Availability

	if book.HasArtifact() {
		return StatusDownloaded{
			BookID:     book.ID,
			Returnable: availabilityRevocable(avail),
		}, nil
	}

	switch v := avail.(type) {
	case nil, AvailabilityLoanable:
		return StatusLoanable{BookID: book.ID}, nil
	case AvailabilityHoldable:
		return StatusHoldable{BookID: book.ID}, nil
	case AvailabilityHeld:
		return StatusHeld{
			BookID:        book.ID,
			QueuePosition: v.QueuePosition,
			Start:         v.Start,
			End:           v.End,
			Revocable:     v.RevokeURI != "",
		}, nil
	case AvailabilityHeldReady:
		return StatusHeldReady{
			BookID:    book.ID,
			End:       v.End,
			Revocable: v.RevokeURI != "",
		}, nil
	case AvailabilityLoaned:
		return StatusRequestingDownload{BookID: book.ID, ExpectedEnd: v.End}, nil
	case AvailabilityOpenAccess:
		return StatusRequestingDownload{BookID: book.ID}, nil
	case AvailabilityRevoked:
		return nil, fmt.Errorf("book %s: %w", book.ID, ErrUnexpectedRevoked)
	default:
		return nil, fmt.Errorf("book %s: unknown availability type %T", book.ID, avail)
	}
}

func availabilityRevocable(a Availability) bool {
	switch v := a.(type) {
	case AvailabilityLoaned:
		return v.RevokeURI != ""
	case AvailabilityOpenAccess:
		return v.RevokeURI != ""
	case AvailabilityHeld:
		return v.RevokeURI != ""
	case AvailabilityHeldReady:
		return v.RevokeURI != ""
	default:
		return false
	}
}

// StatusName returns a short human-readable name for a status.
func StatusName(s BookStatus) string {
	switch s.(type) {
	case StatusLoanable:
		return "loanable"
	case StatusHoldable:
		return "holdable"
	case StatusHeld:
		return "held"
	case StatusHeldReady:
		return "held-ready"
	case StatusRequestingLoan:
		return "requesting-loan"
	case StatusRequestingDownload:
		return "requesting-download"
	case StatusDownloadInProgress:
		return "download-in-progress"
	case StatusDownloaded:
		return "downloaded"
	case StatusDownloadFailed:
		return "download-failed"
	case StatusRequestingRevoke:
		return "requesting-revoke"
	case StatusRevoked:
		return "revoked"
	case StatusRevokeFailed:
		return "revoke-failed"
	default:
		return "unknown"
	}
}

// RevokeURI extracts the revocation URI from an availability, if any.
func RevokeURI(a Availability) string {
	switch v := a.(type) {
	case AvailabilityLoaned:
		return v.RevokeURI
	case AvailabilityOpenAccess:
		return v.RevokeURI
	case AvailabilityHeld:
		return v.RevokeURI
	case AvailabilityHeldReady:
		return v.RevokeURI
	default:
		return ""
	}
}
