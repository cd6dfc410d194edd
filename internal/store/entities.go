package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
)

// EntityStore looks up the placement-app rows a fact refers to. A vanished
// row surfaces as a MISSING_ENTITY error.
type EntityStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewEntityStore(db *sql.DB, log logger.Logger) *EntityStore {
	return &EntityStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"store": "entities"}),
	}
}

func (s *EntityStore) Company(ctx context.Context, id string) (*models.Company, error) {
	var c models.Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM companies WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupError("company", id, err)
	}
	return &c, nil
}

func (s *EntityStore) Shortlist(ctx context.Context, id string) (*models.Shortlist, error) {
	var sl models.Shortlist
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.company_id, c.name, s.title
		FROM shortlists s
		JOIN companies c ON c.id = s.company_id
		WHERE s.id = $1`, id).Scan(&sl.ID, &sl.CompanyID, &sl.CompanyName, &sl.Title)
	if err != nil {
		return nil, lookupError("shortlist", id, err)
	}
	return &sl, nil
}

func (s *EntityStore) Domain(ctx context.Context, name string) (*models.Domain, error) {
	var d models.Domain
	err := s.db.QueryRowContext(ctx, `
		SELECT name, title FROM prep_domains WHERE name = $1`, name).Scan(&d.Name, &d.Title)
	if err != nil {
		return nil, lookupError("domain", name, err)
	}
	return &d, nil
}

func lookupError(kind, ref string, err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewMissingEntityError(kind, ref)
	}
	return errors.NewPersistenceError("lookup "+kind, err)
}
