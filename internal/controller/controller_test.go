package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/downloads"
	"github.com/lectern/lectern/internal/log"
	"github.com/lectern/lectern/internal/registry"
)

// === In-memory book database ===

type memDB struct {
	mu        sync.Mutex
	books     map[domain.BookID]domain.Book
	createErr error
}

func newMemDB() *memDB {
	return &memDB{books: make(map[domain.BookID]domain.Book)}
}

func (db *memDB) Create(entry domain.CatalogEntry) (domain.Book, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.createErr != nil {
		return domain.Book{}, db.createErr
	}

	id := entry.BookID()
	book, ok := db.books[id]
	if !ok {
		book = domain.Book{ID: id}
	}
	book.Entry = entry
	db.books[id] = book
	return book, nil
}

func (db *memDB) Book(id domain.BookID) (domain.Book, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	book, ok := db.books[id]
	return book, ok
}

func (db *memDB) Books() []domain.BookID {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids := make([]domain.BookID, 0, len(db.books))
	for id := range db.books {
		ids = append(ids, id)
	}
	return ids
}

func (db *memDB) SetArtifact(id domain.BookID, path string) (domain.Book, error) {
	return db.mutate(id, func(b *domain.Book) { b.File = path })
}

func (db *memDB) SetRights(id domain.BookID, rights []byte) (domain.Book, error) {
	return db.mutate(id, func(b *domain.Book) { b.Rights = rights })
}

func (db *memDB) Delete(id domain.BookID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.books, id)
	return nil
}

func (db *memDB) mutate(id domain.BookID, fn func(*domain.Book)) (domain.Book, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	book, ok := db.books[id]
	if !ok {
		return domain.Book{}, fmt.Errorf("%w: %s", domain.ErrBookNotFound, id)
	}
	fn(&book)
	db.books[id] = book
	return book, nil
}

// === Account ===

type fakeAccount struct {
	mu       sync.Mutex
	id       string
	provider domain.Provider
	creds    *domain.Credentials
	db       *memDB
}

func newFakeAccount(provider domain.Provider) *fakeAccount {
	return &fakeAccount{id: "acct-1", provider: provider, db: newMemDB()}
}

func (a *fakeAccount) ID() string                { return a.id }
func (a *fakeAccount) Provider() domain.Provider { return a.provider }

func (a *fakeAccount) Credentials() (domain.Credentials, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.creds == nil {
		return domain.Credentials{}, false
	}
	return *a.creds, true
}

func (a *fakeAccount) SetCredentials(creds domain.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = &creds
	return nil
}

func (a *fakeAccount) ClearCredentials() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = nil
	return nil
}

func (a *fakeAccount) Database() domain.BookDatabase { return a.db }

// === Feed loader ===

type fakeFeeds struct {
	mu      sync.Mutex
	entries map[string]domain.CatalogEntry
	feeds   map[string]domain.Feed
	errs    map[string]error
	calls   []string
}

func newFakeFeeds() *fakeFeeds {
	return &fakeFeeds{
		entries: make(map[string]domain.CatalogEntry),
		feeds:   make(map[string]domain.Feed),
		errs:    make(map[string]error),
	}
}

func (f *fakeFeeds) FetchEntry(ctx context.Context, uri string, creds *domain.Credentials, method string) (domain.CatalogEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+uri)
	err := f.errs[uri]
	entry, ok := f.entries[uri]
	f.mu.Unlock()

	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if !ok {
		return domain.CatalogEntry{}, fmt.Errorf("no entry stubbed for %s", uri)
	}
	return entry, nil
}

func (f *fakeFeeds) FetchFeed(ctx context.Context, uri string, creds *domain.Credentials) (domain.Feed, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "FEED "+uri)
	err := f.errs[uri]
	feed := f.feeds[uri]
	f.mu.Unlock()

	if err != nil {
		return domain.Feed{}, err
	}
	return feed, nil
}

func (f *fakeFeeds) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// === Downloader ===

type fakeDownloader struct {
	mu          sync.Mutex
	dir         string
	size        int64
	chunk       int64
	contentType string
	failWith    error
	blocking    bool
	started     chan struct{} // closed when the first transfer begins
	calls       int
}

func newFakeDownloader(dir string) *fakeDownloader {
	return &fakeDownloader{
		dir:         dir,
		size:        1000,
		chunk:       10,
		contentType: "application/epub+zip",
		started:     make(chan struct{}),
	}
}

type fakeHandle struct {
	cancelOnce sync.Once
	cancelled  chan struct{}
	done       chan struct{}
}

func (h *fakeHandle) ContentType() string      { return "" }
func (h *fakeHandle) Progress() (int64, int64) { return 0, 0 }
func (h *fakeHandle) Done() <-chan struct{}    { return h.done }
func (h *fakeHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

func (d *fakeDownloader) Download(ctx context.Context, uri string, creds *domain.Credentials, events domain.DownloadEvents) domain.DownloadHandle {
	d.mu.Lock()
	d.calls++
	if d.calls == 1 {
		close(d.started)
	}
	d.mu.Unlock()

	h := &fakeHandle{cancelled: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(h.done)

		if d.failWith != nil {
			events.OnFailed(d.failWith)
			return
		}

		if d.blocking {
			select {
			case <-h.cancelled:
				events.OnCancelled()
				return
			case <-ctx.Done():
				events.OnCancelled()
				return
			}
		}

		events.OnStarted(d.size)
		for current := d.chunk; ; current += d.chunk {
			if current > d.size {
				current = d.size
			}
			events.OnProgress(current, d.size)
			if current == d.size {
				break
			}
		}

		f, err := os.CreateTemp(d.dir, "fake-download-*")
		if err != nil {
			events.OnFailed(err)
			return
		}
		f.WriteString("downloaded bytes")
		f.Close()
		events.OnCompleted(d.contentType, f.Name())
	}()

	return h
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// === Status recorder ===

type statusRecorder struct {
	mu     sync.Mutex
	events []registry.Event
}

func (r *statusRecorder) record(ev registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// names returns the observed transition names; cleared entries read as
// "cleared".
func (r *statusRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Status == nil {
			names = append(names, "cleared")
			continue
		}
		names = append(names, domain.StatusName(ev.Status))
	}
	return names
}

func (r *statusRecorder) statuses() []domain.BookStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.BookStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

// === Harness ===

type fixture struct {
	controller  *Controller
	registry    *registry.Registry
	recorder    *statusRecorder
	feeds       *fakeFeeds
	downloader  *fakeDownloader
	coordinator *downloads.Coordinator
	account     *fakeAccount
	dir         string
}

func newFixture(t *testing.T, provider domain.Provider) *fixture {
	t.Helper()

	dir := t.TempDir()
	reg := registry.New(log.NullLogger())
	rec := &statusRecorder{}
	reg.Subscribe(rec.record)

	feedsStub := newFakeFeeds()
	dl := newFakeDownloader(dir)
	coord := downloads.NewCoordinator(log.NullLogger())

	ctrl := New(Config{
		Registry:    reg,
		Feeds:       feedsStub,
		Downloader:  dl,
		Coordinator: coord,
		Bundled:     dirResolverStub{dir: dir},
		DownloadDir: dir,
		Workers:     1,
		Logger:      log.NullLogger(),
	})
	t.Cleanup(ctrl.Close)

	return &fixture{
		controller:  ctrl,
		registry:    reg,
		recorder:    rec,
		feeds:       feedsStub,
		downloader:  dl,
		coordinator: coord,
		account:     newFakeAccount(provider),
		dir:         dir,
	}
}

// dirResolverStub serves bundled URIs from plain files in a directory.
type dirResolverStub struct {
	dir string
}

func (r dirResolverStub) Resolve(uri string) (io.ReadCloser, int64, error) {
	name := filepath.Base(uri)
	f, err := os.Open(filepath.Join(r.dir, name))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func mustWait(t *testing.T, handle *TaskHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-handle.Done():
		return handle.Err()
	case <-ctx.Done():
		t.Fatal("task did not finish")
		return nil
	}
}

func openAccessEntry(id string) domain.CatalogEntry {
	return domain.CatalogEntry{
		ID:    id,
		Title: "Title for " + id,
		Acquisitions: []domain.Acquisition{{
			Relation: domain.AcquisitionOpenAccess,
			Type:     "application/epub+zip",
			URI:      "https://example.com/fulfill/" + id,
		}},
		Availability: domain.AvailabilityOpenAccess{},
	}
}

func requireStatus[T domain.BookStatus](t *testing.T, reg *registry.Registry, id domain.BookID) T {
	t.Helper()
	status, ok := reg.Status(id)
	require.True(t, ok, "no registry entry for %s", id)
	typed, ok := status.(T)
	require.True(t, ok, "status is %T", status)
	return typed
}
