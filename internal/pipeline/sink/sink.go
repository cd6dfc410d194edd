// Package sink records raw notification facts as they happen upstream.
package sink

import (
	"context"
	"fmt"
	"strings"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/models"
)

// FactCreator persists a validated fact.
type FactCreator interface {
	Create(ctx context.Context, fact *models.Fact) (*models.Fact, error)
}

// RecordInput is one raw event. At least one of ShortlistID, CompanyID and
// Domain must be set.
type RecordInput struct {
	Type        models.FactType `json:"type"`
	Subtype     string          `json:"subtype"`
	ShortlistID *string         `json:"shortlistId,omitempty"`
	CompanyID   *string         `json:"companyId,omitempty"`
	Domain      *string         `json:"domain,omitempty"`
	Links       []models.Link   `json:"links,omitempty"`
}

type Sink struct {
	facts  FactCreator
	logger logger.Logger
}

func New(facts FactCreator, log logger.Logger) *Sink {
	return &Sink{
		facts:  facts,
		logger: log.WithFields(map[string]interface{}{"component": "sink"}),
	}
}

// Record validates in and stores it as a new unhandled fact. Nothing is
// persisted when validation fails. Duplicates are accepted; collation
// deduplicates.
func (s *Sink) Record(ctx context.Context, in RecordInput) (*models.Fact, error) {
	in = normalize(in)
	if err := Validate(in); err != nil {
		s.logger.Warn("fact rejected", map[string]interface{}{
			"type":    in.Type,
			"subtype": in.Subtype,
			"error":   err,
		})
		return nil, err
	}

	fact, err := s.facts.Create(ctx, &models.Fact{
		Type:        in.Type,
		Subtype:     in.Subtype,
		ShortlistID: in.ShortlistID,
		CompanyID:   in.CompanyID,
		Domain:      in.Domain,
		Links:       in.Links,
	})
	if err != nil {
		return nil, err
	}

	metrics.FactsRecorded.WithLabelValues(string(fact.Type), fact.Subtype).Inc()
	s.logger.Info("fact recorded", map[string]interface{}{
		"factId":  fact.ID,
		"type":    fact.Type,
		"subtype": fact.Subtype,
	})
	return fact, nil
}

// Validate applies the creation rules of a fact.
func Validate(in RecordInput) error {
	if in.Type == "" {
		return errors.NewValidationError("type", "type is required")
	}
	if in.Subtype == "" {
		return errors.NewValidationError("subtype", "subtype is required")
	}
	if !in.Type.Valid() {
		return errors.NewValidationError("type", fmt.Sprintf("unknown type %q", in.Type))
	}
	if in.ShortlistID == nil && in.CompanyID == nil && in.Domain == nil {
		return errors.NewValidationError("refs", "one of shortlistId, companyId or domain is required")
	}
	if !in.Type.AllowsSubtype(in.Subtype) {
		return errors.NewValidationError("subtype", fmt.Sprintf("subtype %q is not allowed for %s", in.Subtype, in.Type))
	}
	for i, l := range in.Links {
		if l.LinkName == "" || l.Link == "" {
			return errors.NewValidationError("links", fmt.Sprintf("link %d needs both link and link_name", i))
		}
	}
	return nil
}

func normalize(in RecordInput) RecordInput {
	in.Type = models.FactType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	in.Subtype = strings.TrimSpace(in.Subtype)
	// COMPANY subtypes are free text
	if in.Type != models.FactTypeCompany {
		in.Subtype = strings.ToUpper(in.Subtype)
	}
	in.ShortlistID = blankToNil(in.ShortlistID)
	in.CompanyID = blankToNil(in.CompanyID)
	in.Domain = blankToNil(in.Domain)
	return in
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
