package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// BookID is the stable identifier for a book, derived from the canonical
// identifier of its catalog entry. It keys the registry, the download
// coordinator and the on-disk database.
type BookID string

// NewBookID derives a BookID from a catalog entry's canonical identifier.
// The derivation is deterministic: the same identifier always produces the
// same BookID.
func NewBookID(identifier string) BookID {
	hash := sha256.Sum256([]byte(identifier))
	return BookID(hex.EncodeToString(hash[:]))
}

// AcquisitionRelation describes how an acquisition link may be exercised.
type AcquisitionRelation string

const (
	AcquisitionBorrow     AcquisitionRelation = "borrow"
	AcquisitionOpenAccess AcquisitionRelation = "open-access"
	AcquisitionGeneric    AcquisitionRelation = "generic"
	AcquisitionBuy        AcquisitionRelation = "buy"
	AcquisitionSample     AcquisitionRelation = "sample"
	AcquisitionSubscribe  AcquisitionRelation = "subscribe"
)

// BundledScheme is the reserved URI scheme for content shipped with the
// application. Acquisitions with this scheme bypass the network entirely.
const BundledScheme = "lectern-bundled"

// Acquisition is a typed access relation on a catalog entry.
type Acquisition struct {
	Relation AcquisitionRelation `json:"relation"`
	Type     string              `json:"type"` // declared content type of the target
	URI      string              `json:"uri"`
}

// CatalogEntry is the canonical remote description of a book.
type CatalogEntry struct {
	ID           string        `json:"id"` // canonical identifier
	Title        string        `json:"title"`
	Authors      []string      `json:"authors,omitempty"`
	Categories   []string      `json:"categories,omitempty"`
	Updated      time.Time     `json:"updated"`
	Acquisitions []Acquisition `json:"acquisitions,omitempty"`
	Availability Availability  `json:"-"`
}

// BookID returns the derived identifier for this entry.
func (e CatalogEntry) BookID() BookID {
	return NewBookID(e.ID)
}

// Book is the locally persisted aggregate for one catalog entry.
// It is owned and mutated exclusively through a BookDatabase.
type Book struct {
	ID        BookID       `json:"id"`
	AccountID string       `json:"account_id"`
	Entry     CatalogEntry `json:"entry"`
	File      string       `json:"file,omitempty"`   // path to the downloaded artifact
	Rights    []byte       `json:"rights,omitempty"` // DRM rights blob
}

// HasArtifact reports whether a finished, readable artifact exists locally.
func (b Book) HasArtifact() bool {
	return b.File != ""
}

// Credentials are the stored account credentials used for authenticated
// catalog operations.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Provider describes the catalog provider behind an account.
type Provider struct {
	Name         string `json:"name"`
	SupportsAuth bool   `json:"supports_auth"` // provider can authenticate users
	RequiresDRM  bool   `json:"requires_drm"`  // fulfillment needs DRM authentication
	LoginURI     string `json:"login_uri,omitempty"`
	LoansURI     string `json:"loans_uri,omitempty"` // authoritative loans/holds feed
	CatalogURI   string `json:"catalog_uri,omitempty"`
}

// BookWithStatus is the pair published into the registry: the most recent
// persisted book together with its current lifecycle status.
type BookWithStatus struct {
	Book   Book
	Status BookStatus
}
