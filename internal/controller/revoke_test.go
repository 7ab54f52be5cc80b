package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/lectern/internal/domain"
)

func seedBook(t *testing.T, f *fixture, entry domain.CatalogEntry) domain.Book {
	t.Helper()
	book, err := f.account.db.Create(entry)
	require.NoError(t, err)
	return book
}

func TestRevokeOpenAccessLoan(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test", SupportsAuth: true})
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	const revokeURI = "https://example.com/revoke/1"
	book := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:1",
		Title:        "Returned Book",
		Availability: domain.AvailabilityOpenAccess{RevokeURI: revokeURI},
	})
	f.feeds.entries[revokeURI] = domain.CatalogEntry{ID: "urn:1"}

	handle := f.controller.Revoke(f.account, book.ID)
	require.NoError(t, mustWait(t, handle))

	assert.Contains(t, f.feeds.calls, " "+revokeURI)

	_, ok := f.account.db.Book(book.ID)
	assert.False(t, ok, "the book is gone from the database")
	_, ok = f.registry.Status(book.ID)
	assert.False(t, ok, "the registry entry is cleared")

	assert.Equal(t, []string{"requesting-revoke", "cleared"}, f.recorder.names())
}

func TestRevokeServerFailure(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test", SupportsAuth: true})
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	const revokeURI = "https://example.com/revoke/1"
	book := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:1",
		Availability: domain.AvailabilityOpenAccess{RevokeURI: revokeURI},
	})
	f.feeds.errs[revokeURI] = errors.New("server exploded")

	handle := f.controller.Revoke(f.account, book.ID)
	require.Error(t, mustWait(t, handle), "revoke failures fail the handle too")

	failed := requireStatus[domain.StatusRevokeFailed](t, f.registry, book.ID)
	assert.Error(t, failed.Err)

	_, ok := f.account.db.Book(book.ID)
	assert.True(t, ok, "a failed revoke keeps the book")
}

func TestRevokeUnsupportedAvailability(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test", SupportsAuth: true})

	book := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:1",
		Availability: domain.AvailabilityLoaned{RevokeURI: "https://example.com/revoke/1"},
	})

	handle := f.controller.Revoke(f.account, book.ID)
	assert.ErrorIs(t, mustWait(t, handle), domain.ErrRevokeNotSupported)
	requireStatus[domain.StatusRevokeFailed](t, f.registry, book.ID)
}

func TestRevokeWithoutURI(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test", SupportsAuth: true})

	book := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:1",
		Availability: domain.AvailabilityOpenAccess{},
	})

	handle := f.controller.Revoke(f.account, book.ID)
	assert.ErrorIs(t, mustWait(t, handle), domain.ErrRevokeNoURI)
}

func TestRevokeWithoutCredentials(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test", SupportsAuth: true})

	book := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:1",
		Availability: domain.AvailabilityOpenAccess{RevokeURI: "https://example.com/revoke/1"},
	})

	handle := f.controller.Revoke(f.account, book.ID)
	assert.ErrorIs(t, mustWait(t, handle), domain.ErrAuthenticationRequired)
	assert.Zero(t, f.feeds.callCount())
}

func TestRevokeMissingBook(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test"})
	id := domain.NewBookID("urn:absent")

	handle := f.controller.Revoke(f.account, id)
	assert.ErrorIs(t, mustWait(t, handle), domain.ErrBookNotFound)

	// The failure stays inspectable under the real BookID even though the
	// database has no entry to attach it to.
	failed := requireStatus[domain.StatusRevokeFailed](t, f.registry, id)
	assert.Equal(t, id, failed.BookID)
	_, phantom := f.registry.Status(domain.BookID(""))
	assert.False(t, phantom)
}
