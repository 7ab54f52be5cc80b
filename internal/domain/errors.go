package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle operations. Tasks wrap these with
// book-specific context; callers match with errors.Is.
var (
	// ErrAuthenticationRequired indicates credentials were absent where
	// the operation requires them
	ErrAuthenticationRequired = errors.New("authentication required but no credentials are stored")

	// ErrNoUsableAcquisition indicates no acquisition on an entry could be fulfilled
	ErrNoUsableAcquisition = errors.New("no usable acquisition on catalog entry")

	// ErrBadBorrowFeed indicates the borrow re-fetch returned a malformed feed
	ErrBadBorrowFeed = errors.New("borrow feed is malformed")

	// ErrFetchingBorrowFeed indicates the borrow re-fetch itself failed
	ErrFetchingBorrowFeed = errors.New("failed fetching borrow feed")

	// ErrLoanLimitReached indicates the server refused the loan because the
	// patron is at their loan limit
	ErrLoanLimitReached = errors.New("loan limit reached")

	// ErrFetchingLicenseFailed indicates the DRM fulfillment token download failed
	ErrFetchingLicenseFailed = errors.New("failed fetching fulfillment license")

	// ErrFetchingBookFailed indicates the finished book download failed
	ErrFetchingBookFailed = errors.New("failed fetching book")

	// ErrDRMUnsupported is the named gap for DRM-fulfilled content: the
	// token was obtained but no fulfillment engine is available
	ErrDRMUnsupported = errors.New("DRM fulfillment is not supported")

	// ErrRevokeNoURI indicates the book's availability carries no revocation URI
	ErrRevokeNoURI = errors.New("no revocation URI available")

	// ErrRevokeNotSupported indicates revocation of this availability kind
	// is an unimplemented path
	ErrRevokeNotSupported = errors.New("revocation is not supported for this availability")

	// ErrBookNotFound indicates the book is absent from the database
	ErrBookNotFound = errors.New("book not found in database")

	// ErrUnexpectedRevoked indicates the server reported a Revoked
	// availability where the contract forbids it
	ErrUnexpectedRevoked = errors.New("unexpected revoked availability")

	// ErrTaskCancelled indicates the task handle was cancelled before the
	// task started
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrControllerClosed indicates a task was submitted after the
	// controller shut down
	ErrControllerClosed = errors.New("controller is closed")
)

// ProblemDetail is a server-supplied RFC 7807 style problem description
// attached to failed catalog operations.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

// ProblemLoanLimitReached is the problem type servers use to signal the
// patron is at their loan limit.
const ProblemLoanLimitReached = "http://librarysimplified.org/terms/problem/loan-limit-reached"

// FeedError reports a failed feed or catalog HTTP operation, carrying the
// response status and any parsed problem detail.
type FeedError struct {
	URI     string
	Status  int
	Problem *ProblemDetail
}

func (e *FeedError) Error() string {
	if e.Problem != nil && e.Problem.Title != "" {
		return fmt.Sprintf("feed request %s failed: status %d: %s", e.URI, e.Status, e.Problem.Title)
	}
	return fmt.Sprintf("feed request %s failed: status %d", e.URI, e.Status)
}

// IsLoanLimit reports whether the server blamed the failure on the loan limit.
func (e *FeedError) IsLoanLimit() bool {
	return e.Problem != nil && e.Problem.Type == ProblemLoanLimitReached
}
