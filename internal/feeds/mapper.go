package feeds

import (
	"fmt"

	"github.com/lectern/lectern/internal/domain"
)

// Availability states as they appear on the wire.
const (
	stateLoanable   = "loanable"
	stateHoldable   = "holdable"
	stateHeld       = "held"
	stateReady      = "ready"
	stateLoaned     = "loaned"
	stateOpenAccess = "open-access"
	stateRevoked    = "revoked"
)

// Acquisition relations as they appear on the wire.
var relationMap = map[string]domain.AcquisitionRelation{
	"http://opds-spec.org/acquisition/borrow":      domain.AcquisitionBorrow,
	"http://opds-spec.org/acquisition/open-access": domain.AcquisitionOpenAccess,
	"http://opds-spec.org/acquisition":             domain.AcquisitionGeneric,
	"http://opds-spec.org/acquisition/buy":         domain.AcquisitionBuy,
	"http://opds-spec.org/acquisition/sample":      domain.AcquisitionSample,
	"http://opds-spec.org/acquisition/subscribe":   domain.AcquisitionSubscribe,
}

func mapFeed(dto feedDTO) (domain.Feed, error) {
	feed := domain.Feed{}

	for _, e := range dto.Entries {
		entry, err := mapEntry(e)
		if err != nil {
			return domain.Feed{}, err
		}
		feed.Entries = append(feed.Entries, entry)
	}

	for _, g := range dto.Groups {
		group := domain.FeedGroup{Title: g.Title}
		for _, e := range g.Entries {
			entry, err := mapEntry(e)
			if err != nil {
				return domain.Feed{}, err
			}
			group.Entries = append(group.Entries, entry)
		}
		feed.Groups = append(feed.Groups, group)
	}

	return feed, nil
}

func mapEntry(dto entryDTO) (domain.CatalogEntry, error) {
	avail, err := mapAvailability(dto.Availability)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("entry %s: %w", dto.ID, err)
	}

	entry := domain.CatalogEntry{
		ID:           dto.ID,
		Title:        dto.Title,
		Authors:      dto.Authors,
		Categories:   dto.Categories,
		Updated:      dto.Updated,
		Availability: avail,
	}

	for _, a := range dto.Acquisitions {
		relation, ok := relationMap[a.Relation]
		if !ok {
			// Unknown relations are skipped, not fatal: servers add new
			// link relations without notice.
			continue
		}
		entry.Acquisitions = append(entry.Acquisitions, domain.Acquisition{
			Relation: relation,
			Type:     a.Type,
			URI:      a.URI,
		})
	}

	return entry, nil
}

func mapAvailability(dto *availabilityDTO) (domain.Availability, error) {
	if dto == nil {
		return domain.AvailabilityLoanable{}, nil
	}

	switch dto.State {
	case stateLoanable, "":
		return domain.AvailabilityLoanable{}, nil
	case stateHoldable:
		return domain.AvailabilityHoldable{}, nil
	case stateHeld:
		return domain.AvailabilityHeld{
			QueuePosition: dto.QueuePosition,
			Start:         dto.Since,
			End:           dto.Until,
			RevokeURI:     dto.RevokeURI,
		}, nil
	case stateReady:
		return domain.AvailabilityHeldReady{
			End:       dto.Until,
			RevokeURI: dto.RevokeURI,
		}, nil
	case stateLoaned:
		return domain.AvailabilityLoaned{
			Start:     dto.Since,
			End:       dto.Until,
			RevokeURI: dto.RevokeURI,
		}, nil
	case stateOpenAccess:
		return domain.AvailabilityOpenAccess{RevokeURI: dto.RevokeURI}, nil
	case stateRevoked:
		return domain.AvailabilityRevoked{}, nil
	default:
		return nil, fmt.Errorf("unknown availability state %q", dto.State)
	}
}
