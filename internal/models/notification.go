// internal/models/notification.go
package models

import "time"

// FactType selects collation and template rules for a notification fact.
type FactType string

const (
	FactTypeShortlist FactType = "SHORTLIST"
	FactTypeCompany   FactType = "COMPANY"
	FactTypeContent   FactType = "CONTENT"
	FactTypePrep      FactType = "PREP"
)

// FactTypes lists every known type in display order.
var FactTypes = []FactType{FactTypeShortlist, FactTypeCompany, FactTypeContent, FactTypePrep}

// Subtypes
const (
	SubtypeShortlist         = "SL"
	SubtypeExtendedShortlist = "ESL"
	SubtypeAdded             = "ADDED"
	SubtypeUpdated           = "UPDATED"
)

func (t FactType) Valid() bool {
	switch t {
	case FactTypeShortlist, FactTypeCompany, FactTypeContent, FactTypePrep:
		return true
	}
	return false
}

// AllowsSubtype reports whether subtype is legal for t. COMPANY accepts any
// non-empty tag.
func (t FactType) AllowsSubtype(subtype string) bool {
	if subtype == "" {
		return false
	}
	switch t {
	case FactTypeShortlist:
		return subtype == SubtypeShortlist || subtype == SubtypeExtendedShortlist
	case FactTypeContent:
		return subtype == SubtypeAdded || subtype == SubtypeUpdated
	case FactTypePrep:
		return subtype == SubtypeUpdated
	case FactTypeCompany:
		return true
	}
	return false
}

// Link is a named URL carried by a fact and referenced from templates.
type Link struct {
	Link     string `json:"link"`
	LinkName string `json:"link_name"`
}

// Fact is one raw notification event. Only IsHandled ever changes after
// creation, and only from false to true.
type Fact struct {
	ID          int64     `json:"id"`
	Type        FactType  `json:"type"`
	Subtype     string    `json:"subtype"`
	ShortlistID *string   `json:"shortlistId,omitempty"`
	CompanyID   *string   `json:"companyId,omitempty"`
	Domain      *string   `json:"domain,omitempty"`
	Links       []Link    `json:"links"`
	IsHandled   bool      `json:"isHandled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EmailGroup is the unit of rendering and delivery. It is derived on every
// run and never persisted.
type EmailGroup struct {
	Type        FactType `json:"type"`
	Key         string   `json:"key"` // shortlist, company or domain the group is about
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Brief       string   `json:"brief"`
	WhereToLook string   `json:"whereToLook"`
	LinkName    string   `json:"linkName"`
	FactIDs     []int64  `json:"factIds"`
	ShortlistID *string  `json:"shortlistId,omitempty"`
}
