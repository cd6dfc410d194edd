package store

import (
	"context"
	"database/sql"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
)

// Directory reads the placement app's users. Only active and verified users
// are ever returned.
type Directory struct {
	db     *sql.DB
	logger logger.Logger
}

func NewDirectory(db *sql.DB, log logger.Logger) *Directory {
	return &Directory{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"store": "directory"}),
	}
}

// ActiveVerifiedUsers returns every active and verified user, narrowed to
// role when role is non-nil.
func (d *Directory) ActiveVerifiedUsers(ctx context.Context, role *string) ([]models.Person, error) {
	query := `
		SELECT id, name, email, contact_id, role
		FROM users
		WHERE is_active = TRUE AND is_verified = TRUE`
	var args []interface{}
	if role != nil {
		query += ` AND role = $1`
		args = append(args, *role)
	}
	query += ` ORDER BY id`

	return d.queryPeople(ctx, "list active users", query, args...)
}

// ShortlistRecipients returns the active and verified users on shortlistID.
func (d *Directory) ShortlistRecipients(ctx context.Context, shortlistID string) ([]models.Person, error) {
	return d.queryPeople(ctx, "list shortlist users", `
		SELECT DISTINCT u.id, u.name, u.email, u.contact_id, u.role
		FROM shortlist_members sm
		JOIN users u ON u.id = sm.user_id
		WHERE sm.shortlist_id = $1
			AND u.is_active = TRUE
			AND u.is_verified = TRUE
		ORDER BY u.id`, shortlistID)
}

func (d *Directory) queryPeople(ctx context.Context, operation, query string, args ...interface{}) ([]models.Person, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError(operation, err)
	}
	defer rows.Close()

	people := []models.Person{}
	for rows.Next() {
		var (
			p         models.Person
			contactID sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &contactID, &p.Role); err != nil {
			return nil, errors.NewPersistenceError(operation, err)
		}
		p.ContactID = contactID.String
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError(operation, err)
	}
	return people, nil
}
