package feeds

import "time"

// Wire types for the catalog's JSON feed format. Mapping to domain types
// lives in mapper.go.

type feedDTO struct {
	Entries []entryDTO `json:"entries"`
	Groups  []groupDTO `json:"groups"`
}

type groupDTO struct {
	Title   string     `json:"title"`
	Entries []entryDTO `json:"entries"`
}

type entryDTO struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Authors      []string         `json:"authors"`
	Categories   []string         `json:"categories"`
	Updated      time.Time        `json:"updated"`
	Acquisitions []acquisitionDTO `json:"acquisitions"`
	Availability *availabilityDTO `json:"availability"`
}

type acquisitionDTO struct {
	Relation string `json:"rel"`
	Type     string `json:"type"`
	URI      string `json:"href"`
}

type availabilityDTO struct {
	State         string     `json:"state"`
	QueuePosition *int       `json:"position,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
	RevokeURI     string     `json:"revoke_href,omitempty"`
}
