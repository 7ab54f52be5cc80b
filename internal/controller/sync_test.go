package controller

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/lectern/internal/domain"
)

const loansURI = "https://example.com/loans"

func authedProvider() domain.Provider {
	return domain.Provider{Name: "test", SupportsAuth: true, LoansURI: loansURI}
}

func TestSyncCreatesAndUpdates(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	end := time.Now().Add(14 * 24 * time.Hour)
	f.feeds.feeds[loansURI] = domain.Feed{Entries: []domain.CatalogEntry{
		{
			ID:           "urn:loaned",
			Title:        "Loaned Book",
			Availability: domain.AvailabilityLoaned{End: &end, RevokeURI: "https://example.com/revoke/1"},
		},
		{
			ID:           "urn:ready",
			Title:        "Ready Hold",
			Availability: domain.AvailabilityHeldReady{RevokeURI: "https://example.com/revoke/2"},
		},
	}}

	handle := f.controller.Sync(f.account)
	require.NoError(t, mustWait(t, handle))

	assert.Len(t, f.account.db.Books(), 2)

	loaned := requireStatus[domain.StatusRequestingDownload](t, f.registry, domain.NewBookID("urn:loaned"))
	require.NotNil(t, loaned.ExpectedEnd)
	assert.True(t, loaned.ExpectedEnd.Equal(end))

	ready := requireStatus[domain.StatusHeldReady](t, f.registry, domain.NewBookID("urn:ready"))
	assert.True(t, ready.Revocable)
}

func TestSyncRemovesStaleBooks(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	stale := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:stale",
		Title:        "Gone Book",
		Availability: domain.AvailabilityLoanable{},
	})
	f.registry.Update(domain.BookWithStatus{
		Book:   stale,
		Status: domain.StatusLoanable{BookID: stale.ID},
	})

	f.feeds.feeds[loansURI] = domain.Feed{Entries: []domain.CatalogEntry{
		{ID: "urn:kept", Availability: domain.AvailabilityLoaned{}},
	}}

	handle := f.controller.Sync(f.account)
	require.NoError(t, mustWait(t, handle))

	_, ok := f.account.db.Book(stale.ID)
	assert.False(t, ok)
	_, ok = f.registry.Status(stale.ID)
	assert.False(t, ok)

	_, ok = f.account.db.Book(domain.NewBookID("urn:kept"))
	assert.True(t, ok)
}

func TestSyncRemovesRevokedBooks(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	revoked := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:revoked",
		Availability: domain.AvailabilityRevoked{},
	})
	f.feeds.feeds[loansURI] = domain.Feed{}

	handle := f.controller.Sync(f.account)
	require.NoError(t, mustWait(t, handle))

	_, ok := f.account.db.Book(revoked.ID)
	assert.False(t, ok)
	_, ok = f.registry.Status(revoked.ID)
	assert.False(t, ok)
}

func TestSyncRevokedFeedEntry(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	revoked := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:revoked",
		Title:        "Returned Elsewhere",
		Availability: domain.AvailabilityLoaned{},
	})
	f.registry.Update(domain.BookWithStatus{
		Book:   revoked,
		Status: domain.StatusRequestingDownload{BookID: revoked.ID},
	})

	// The revoked entry comes first so the rest of the feed proves the
	// sync kept going past it.
	f.feeds.feeds[loansURI] = domain.Feed{Entries: []domain.CatalogEntry{
		{ID: "urn:revoked", Availability: domain.AvailabilityRevoked{}},
		{ID: "urn:kept", Title: "Still Loaned", Availability: domain.AvailabilityLoaned{}},
	}}

	handle := f.controller.Sync(f.account)
	require.NoError(t, mustWait(t, handle))

	_, ok := f.account.db.Book(revoked.ID)
	assert.False(t, ok, "the revoked book is dropped locally")
	_, ok = f.registry.Status(revoked.ID)
	assert.False(t, ok)

	_, ok = f.account.db.Book(domain.NewBookID("urn:kept"))
	assert.True(t, ok, "entries after the revoked one are still processed")

	t.Run("revoked entry never seen locally", func(t *testing.T) {
		f.feeds.feeds[loansURI] = domain.Feed{Entries: []domain.CatalogEntry{
			{ID: "urn:unknown", Availability: domain.AvailabilityRevoked{}},
			{ID: "urn:kept", Availability: domain.AvailabilityLoaned{}},
		}}

		require.NoError(t, mustWait(t, f.controller.Sync(f.account)))
		_, ok := f.account.db.Book(domain.NewBookID("urn:unknown"))
		assert.False(t, ok, "nothing is created for an unknown revoked entry")
	})
}

func TestSyncUnauthorizedClearsCredentials(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "stale"}))

	kept := seedBook(t, f, domain.CatalogEntry{
		ID:           "urn:kept",
		Availability: domain.AvailabilityLoaned{},
	})
	f.feeds.errs[loansURI] = &domain.FeedError{URI: loansURI, Status: http.StatusUnauthorized}

	handle := f.controller.Sync(f.account)
	require.NoError(t, mustWait(t, handle), "a 401 is handled, not propagated")

	_, ok := f.account.Credentials()
	assert.False(t, ok, "stale credentials are dropped")

	_, ok = f.account.db.Book(kept.ID)
	assert.True(t, ok, "local books survive a failed sync")
}

func TestSyncSkipsUnauthenticatedAccounts(t *testing.T) {
	t.Run("provider without auth", func(t *testing.T) {
		f := newFixture(t, domain.Provider{Name: "open"})
		handle := f.controller.Sync(f.account)
		require.NoError(t, mustWait(t, handle))
		assert.Zero(t, f.feeds.callCount())
	})

	t.Run("no stored credentials", func(t *testing.T) {
		f := newFixture(t, authedProvider())
		handle := f.controller.Sync(f.account)
		require.NoError(t, mustWait(t, handle))
		assert.Zero(t, f.feeds.callCount())
	})
}

func TestSyncFetchFailure(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))
	f.feeds.errs[loansURI] = errors.New("connection refused")

	handle := f.controller.Sync(f.account)
	assert.Error(t, mustWait(t, handle))
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t, authedProvider())
	require.NoError(t, f.account.SetCredentials(domain.Credentials{Username: "u", Password: "p"}))

	f.feeds.feeds[loansURI] = domain.Feed{Entries: []domain.CatalogEntry{
		{ID: "urn:1", Title: "One", Availability: domain.AvailabilityLoaned{}},
		{ID: "urn:2", Title: "Two", Availability: domain.AvailabilityHeldReady{}},
	}}

	require.NoError(t, mustWait(t, f.controller.Sync(f.account)))
	first := f.registry.All()

	require.NoError(t, mustWait(t, f.controller.Sync(f.account)))
	second := f.registry.All()

	assert.Equal(t, first, second)
	assert.Len(t, f.account.db.Books(), 2)
}
