package domain

import (
	"context"
	"io"
	"mime"
)

// Account is the narrow contract this core consumes from the surrounding
// application: identity, provider description, stored credentials and the
// per-account book database.
type Account interface {
	// ID returns the stable account identifier
	ID() string

	// Provider returns the provider description for this account
	Provider() Provider

	// Credentials returns the stored credentials, if any
	Credentials() (Credentials, bool)

	// SetCredentials stores new credentials
	SetCredentials(creds Credentials) error

	// ClearCredentials removes any stored credentials
	ClearCredentials() error

	// Database returns the account's book database
	Database() BookDatabase
}

// BookDatabase is the persistent per-account store of books. All book
// mutation flows through it; implementations must be safe for concurrent
// use.
type BookDatabase interface {
	// Create creates the book for the entry, or updates its entry if the
	// book already exists, and returns the resulting book
	Create(entry CatalogEntry) (Book, error)

	// Book returns the persisted book, if present
	Book(id BookID) (Book, bool)

	// Books returns the IDs of every persisted book
	Books() []BookID

	// SetArtifact records the path of the downloaded artifact
	SetArtifact(id BookID, path string) (Book, error)

	// SetRights records the DRM rights blob
	SetRights(id BookID, rights []byte) (Book, error)

	// Delete removes the book entirely
	Delete(id BookID) error
}

// Feed is a parsed catalog feed: a flat list of entries, or groups of
// entries for curated lanes. A feed carries either entries or groups,
// never both.
type Feed struct {
	Entries []CatalogEntry
	Groups  []FeedGroup
}

// FeedGroup is a titled lane of entries inside a grouped feed.
type FeedGroup struct {
	Title   string
	Entries []CatalogEntry
}

// FeedLoader fetches and parses remote catalog feeds. The method
// parameter selects the HTTP verb; borrow refreshes use PUT.
type FeedLoader interface {
	// FetchEntry fetches a feed expected to contain exactly one entry
	FetchEntry(ctx context.Context, uri string, creds *Credentials, method string) (CatalogEntry, error)

	// FetchFeed fetches a full feed
	FetchFeed(ctx context.Context, uri string, creds *Credentials) (Feed, error)
}

// DownloadEvents carries the callbacks a downloader invokes over the life
// of one transfer. Nil callbacks are skipped.
type DownloadEvents struct {
	OnStarted   func(expected int64)
	OnProgress  func(current, expected int64)
	OnCompleted func(contentType, path string)
	OnFailed    func(err error)
	OnCancelled func()
}

// DownloadHandle represents one in-flight byte transfer.
type DownloadHandle interface {
	// ContentType returns the declared content type once known, else ""
	ContentType() string

	// Progress returns the running and expected byte counts
	Progress() (current, expected int64)

	// Cancel stops the transfer cooperatively
	Cancel()

	// Done is closed when the transfer completes, fails or is cancelled
	Done() <-chan struct{}
}

// Downloader starts byte transfers for fulfillment.
type Downloader interface {
	Download(ctx context.Context, uri string, creds *Credentials, events DownloadEvents) DownloadHandle
}

// BundledResolver resolves reserved-scheme URIs to content shipped with
// the application.
type BundledResolver interface {
	// Resolve opens the bundled resource; size is -1 when unknown
	Resolve(uri string) (r io.ReadCloser, size int64, err error)
}

// DRMEngine converts a fulfillment token into a finished artifact plus
// rights. No implementation exists in this core; borrow tasks that reach
// a DRM token without an engine fail with ErrDRMUnsupported.
type DRMEngine interface {
	Fulfill(ctx context.Context, tokenPath string) (artifact string, rights []byte, err error)
}

// DRMContentTypes are the declared content types that mark a download as
// a DRM fulfillment token rather than a finished book.
var DRMContentTypes = map[string]bool{
	"application/vnd.adobe.adept+xml":        true,
	"application/vnd.librarysimplified.acsm": true,
}

// IsDRMContentType reports whether the declared type marks a fulfillment
// token. Media type parameters such as charset are ignored.
func IsDRMContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DRMContentTypes[contentType]
	}
	return DRMContentTypes[mediaType]
}
