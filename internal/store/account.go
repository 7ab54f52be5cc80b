package store

import (
	"github.com/lectern/lectern/internal/domain"
)

// Account is the store-backed implementation of domain.Account: provider
// description from configuration, credentials persisted in the account's
// own book database file.
type Account struct {
	id       string
	provider domain.Provider
	books    *BookStore
}

// NewAccount wires an account around its book store.
func NewAccount(id string, provider domain.Provider, books *BookStore) *Account {
	return &Account{id: id, provider: provider, books: books}
}

func (a *Account) ID() string                { return a.id }
func (a *Account) Provider() domain.Provider { return a.provider }

func (a *Account) Credentials() (domain.Credentials, bool) {
	return a.books.credentials()
}

func (a *Account) SetCredentials(creds domain.Credentials) error {
	return a.books.setCredentials(creds)
}

func (a *Account) ClearCredentials() error {
	return a.books.clearCredentials()
}

func (a *Account) Database() domain.BookDatabase { return a.books }
