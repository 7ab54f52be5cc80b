package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Availability is the server's declared lending state of a catalog entry.
// It is a closed union; the concrete types below are the only
// implementations. Consumers dispatch with an exhaustive type switch.
type Availability interface {
	isAvailability()
}

// AvailabilityLoanable marks an entry that may be borrowed right now.
type AvailabilityLoanable struct{}

// AvailabilityHoldable marks an entry that may be reserved.
type AvailabilityHoldable struct{}

// AvailabilityHeld marks an entry the user has a hold on.
type AvailabilityHeld struct {
	QueuePosition *int       `json:"queue_position,omitempty"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	RevokeURI     string     `json:"revoke_uri,omitempty"`
}

// AvailabilityHeldReady marks a hold that has become available for
// checkout.
type AvailabilityHeldReady struct {
	End       *time.Time `json:"end,omitempty"` // reservation expiry
	RevokeURI string     `json:"revoke_uri,omitempty"`
}

// AvailabilityLoaned marks an entry currently on loan to the user.
type AvailabilityLoaned struct {
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"` // loan expiry
	RevokeURI string     `json:"revoke_uri,omitempty"`
}

// AvailabilityOpenAccess marks an entry that is freely available.
type AvailabilityOpenAccess struct {
	RevokeURI string `json:"revoke_uri,omitempty"`
}

// AvailabilityRevoked marks an entry whose loan or hold has been revoked
// server-side. It only ever appears in server feeds, never as a resting
// local state.
type AvailabilityRevoked struct{}

func (AvailabilityLoanable) isAvailability()   {}
func (AvailabilityHoldable) isAvailability()   {}
func (AvailabilityHeld) isAvailability()       {}
func (AvailabilityHeldReady) isAvailability()  {}
func (AvailabilityLoaned) isAvailability()     {}
func (AvailabilityOpenAccess) isAvailability() {}
func (AvailabilityRevoked) isAvailability()    {}

// availabilityWrapper tags an availability value with its kind for JSON
// round-tripping through the book database.
type availabilityWrapper struct {
	Kind       string                  `json:"kind"`
	Held       *AvailabilityHeld       `json:"held,omitempty"`
	HeldReady  *AvailabilityHeldReady  `json:"held_ready,omitempty"`
	Loaned     *AvailabilityLoaned     `json:"loaned,omitempty"`
	OpenAccess *AvailabilityOpenAccess `json:"open_access,omitempty"`
}

const (
	kindLoanable   = "loanable"
	kindHoldable   = "holdable"
	kindHeld       = "held"
	kindHeldReady  = "held_ready"
	kindLoaned     = "loaned"
	kindOpenAccess = "open_access"
	kindRevoked    = "revoked"
)

// MarshalJSON serializes the full entry including its availability.
func (e CatalogEntry) MarshalJSON() ([]byte, error) {
	type alias CatalogEntry
	wrapper, err := wrapAvailability(e.Availability)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Availability *availabilityWrapper `json:"availability,omitempty"`
	}{alias(e), wrapper})
}

// UnmarshalJSON restores the entry and its tagged availability.
func (e *CatalogEntry) UnmarshalJSON(data []byte) error {
	type alias CatalogEntry
	var raw struct {
		alias
		Availability *availabilityWrapper `json:"availability,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = CatalogEntry(raw.alias)
	avail, err := unwrapAvailability(raw.Availability)
	if err != nil {
		return err
	}
	e.Availability = avail
	return nil
}

func wrapAvailability(a Availability) (*availabilityWrapper, error) {
	switch v := a.(type) {
	case nil:
		return nil, nil
	case AvailabilityLoanable:
		return &availabilityWrapper{Kind: kindLoanable}, nil
	case AvailabilityHoldable:
		return &availabilityWrapper{Kind: kindHoldable}, nil
	case AvailabilityHeld:
		return &availabilityWrapper{Kind: kindHeld, Held: &v}, nil
	case AvailabilityHeldReady:
		return &availabilityWrapper{Kind: kindHeldReady, HeldReady: &v}, nil
	case AvailabilityLoaned:
		return &availabilityWrapper{Kind: kindLoaned, Loaned: &v}, nil
	case AvailabilityOpenAccess:
		return &availabilityWrapper{Kind: kindOpenAccess, OpenAccess: &v}, nil
	case AvailabilityRevoked:
		return &availabilityWrapper{Kind: kindRevoked}, nil
	default:
		return nil, fmt.Errorf("unknown availability type %T", a)
	}
}

func unwrapAvailability(w *availabilityWrapper) (Availability, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Kind {
	case kindLoanable:
		return AvailabilityLoanable{}, nil
	case kindHoldable:
		return AvailabilityHoldable{}, nil
	case kindHeld:
		if w.Held == nil {
			return AvailabilityHeld{}, nil
		}
		return *w.Held, nil
	case kindHeldReady:
		if w.HeldReady == nil {
			return AvailabilityHeldReady{}, nil
		}
		return *w.HeldReady, nil
	case kindLoaned:
		if w.Loaned == nil {
			return AvailabilityLoaned{}, nil
		}
		return *w.Loaned, nil
	case kindOpenAccess:
		if w.OpenAccess == nil {
			return AvailabilityOpenAccess{}, nil
		}
		return *w.OpenAccess, nil
	case kindRevoked:
		return AvailabilityRevoked{}, nil
	default:
		return nil, fmt.Errorf("unknown availability kind %q", w.Kind)
	}
}
