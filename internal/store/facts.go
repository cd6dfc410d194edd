// Package store holds the Postgres repositories the notification pipeline
// reads and writes through.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"

	"github.com/lib/pq"
)

const factColumns = `id, type, subtype, shortlist_id, company_id, domain, links, is_handled, created_at, updated_at`

// FactStore persists notification facts. Rows are never deleted and only
// is_handled is ever updated.
type FactStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewFactStore(db *sql.DB, log logger.Logger) *FactStore {
	return &FactStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"store": "facts"}),
	}
}

// Create inserts fact and returns it with id and timestamps assigned.
func (s *FactStore) Create(ctx context.Context, fact *models.Fact) (*models.Fact, error) {
	links := fact.Links
	if links == nil {
		links = []models.Link{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return nil, errors.NewValidationError("links", fmt.Sprintf("links are not serializable: %v", err))
	}

	created := *fact
	created.Links = links
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO notification_facts (type, subtype, shortlist_id, company_id, domain, links)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_handled, created_at, updated_at`,
		string(fact.Type),
		fact.Subtype,
		nullString(fact.ShortlistID),
		nullString(fact.CompanyID),
		nullString(fact.Domain),
		linksJSON,
	).Scan(&created.ID, &created.IsHandled, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, errors.NewPersistenceError("create fact", err)
	}

	s.logger.Debug("fact created", map[string]interface{}{
		"factId":  created.ID,
		"type":    created.Type,
		"subtype": created.Subtype,
	})
	return &created, nil
}

// ListUnhandled returns every fact with is_handled = false in id order.
func (s *FactStore) ListUnhandled(ctx context.Context) ([]models.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+`
		FROM notification_facts
		WHERE is_handled = FALSE
		ORDER BY id`)
	if err != nil {
		return nil, errors.NewPersistenceError("list unhandled facts", err)
	}
	defer rows.Close()

	var facts []models.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, errors.NewPersistenceError("scan fact", err)
		}
		facts = append(facts, *fact)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("list unhandled facts", err)
	}
	return facts, nil
}

// MarkHandled sets is_handled for ids. It is a set-true, so repeating it
// or racing another writer leaves the same result.
func (s *FactStore) MarkHandled(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_facts
		SET is_handled = TRUE
		WHERE id = ANY($1) AND is_handled = FALSE`,
		pq.Array(ids),
	)
	if err != nil {
		return errors.NewPersistenceError("mark facts handled", err)
	}

	affected, _ := res.RowsAffected()
	s.logger.Debug("facts marked handled", map[string]interface{}{
		"factIds": ids,
		"changed": affected,
	})
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*models.Fact, error) {
	var (
		fact      models.Fact
		factType  string
		linksJSON []byte
	)
	var shortlistID, companyID, domain sql.NullString
	if err := row.Scan(
		&fact.ID,
		&factType,
		&fact.Subtype,
		&shortlistID,
		&companyID,
		&domain,
		&linksJSON,
		&fact.IsHandled,
		&fact.CreatedAt,
		&fact.UpdatedAt,
	); err != nil {
		return nil, err
	}

	fact.Type = models.FactType(factType)
	fact.ShortlistID = stringPtr(shortlistID)
	fact.CompanyID = stringPtr(companyID)
	fact.Domain = stringPtr(domain)

	fact.Links = []models.Link{}
	if len(linksJSON) > 0 {
		if err := json.Unmarshal(linksJSON, &fact.Links); err != nil {
			return nil, fmt.Errorf("decode links of fact %d: %w", fact.ID, err)
		}
	}
	return &fact, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
