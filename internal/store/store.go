// Package store implements the per-account book database on BoltDB with
// an in-memory read cache.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lectern/lectern/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketBooks   = []byte("books")
	bucketAccount = []byte("account")
)

const credentialsKey = "credentials"

// BookStore implements domain.BookDatabase using BoltDB.
type BookStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// Open opens (creating if needed) the book database for one account under
// baseDir. An empty baseDir yields a memory-only store with no
// persistence.
func Open(baseDir, accountID string) (*BookStore, error) {
	if baseDir == "" {
		return &BookStore{cache: make(map[string][]byte)}, nil
	}

	dir := filepath.Join(baseDir, hashAccountID(accountID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "lectern.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBooks, bucketAccount} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BookStore{db: db, cache: make(map[string][]byte)}, nil
}

func hashAccountID(accountID string) string {
	normalized := strings.TrimSpace(strings.ToLower(accountID))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *BookStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *BookStore) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	// Read from BoltDB
	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *BookStore) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	// Update memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	// Write to BoltDB
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
}

func (s *BookStore) remove(bucket []byte, key string) error {
	cacheKey := string(bucket) + ":" + key

	// Clear from memory cache
	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	// Delete from BoltDB
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b != nil {
			return b.Delete([]byte(key))
		}
		return nil
	})
}

// === domain.BookDatabase ===

// Create creates the book for the entry, or replaces the stored entry if
// the book already exists. Local artifacts survive entry updates.
func (s *BookStore) Create(entry domain.CatalogEntry) (domain.Book, error) {
	id := entry.BookID()

	book, ok := s.Book(id)
	if !ok {
		book = domain.Book{ID: id}
	}
	book.Entry = entry

	if err := s.set(bucketBooks, string(id), book); err != nil {
		return domain.Book{}, fmt.Errorf("failed to persist book %s: %w", id, err)
	}
	return book, nil
}

func (s *BookStore) Book(id domain.BookID) (domain.Book, bool) {
	var book domain.Book
	ok := s.get(bucketBooks, string(id), &book)
	return book, ok
}

func (s *BookStore) Books() []domain.BookID {
	var ids []domain.BookID

	if s.db == nil {
		s.mu.RLock()
		prefix := string(bucketBooks) + ":"
		for k := range s.cache {
			if strings.HasPrefix(k, prefix) {
				ids = append(ids, domain.BookID(strings.TrimPrefix(k, prefix)))
			}
		}
		s.mu.RUnlock()
		return ids
	}

	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBooks)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, domain.BookID(string(k)))
			return nil
		})
	})
	return ids
}

func (s *BookStore) SetArtifact(id domain.BookID, path string) (domain.Book, error) {
	return s.mutate(id, func(book *domain.Book) { book.File = path })
}

func (s *BookStore) SetRights(id domain.BookID, rights []byte) (domain.Book, error) {
	return s.mutate(id, func(book *domain.Book) { book.Rights = rights })
}

func (s *BookStore) Delete(id domain.BookID) error {
	book, ok := s.Book(id)
	if !ok {
		return nil
	}
	if book.File != "" {
		os.Remove(book.File) // Ignore errors
	}
	return s.remove(bucketBooks, string(id))
}

func (s *BookStore) mutate(id domain.BookID, fn func(*domain.Book)) (domain.Book, error) {
	book, ok := s.Book(id)
	if !ok {
		return domain.Book{}, fmt.Errorf("%w: %s", domain.ErrBookNotFound, id)
	}
	fn(&book)
	if err := s.set(bucketBooks, string(id), book); err != nil {
		return domain.Book{}, fmt.Errorf("failed to persist book %s: %w", id, err)
	}
	return book, nil
}

// === Credentials (account bucket) ===

func (s *BookStore) credentials() (domain.Credentials, bool) {
	var creds domain.Credentials
	if !s.get(bucketAccount, credentialsKey, &creds) {
		return domain.Credentials{}, false
	}
	if creds == (domain.Credentials{}) {
		return domain.Credentials{}, false
	}
	return creds, true
}

func (s *BookStore) setCredentials(creds domain.Credentials) error {
	return s.set(bucketAccount, credentialsKey, creds)
}

func (s *BookStore) clearCredentials() error {
	return s.remove(bucketAccount, credentialsKey)
}
