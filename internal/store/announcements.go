package store

import (
	"context"
	"database/sql"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
)

// AnnouncementIndexer mirrors appended announcements into a search backend.
type AnnouncementIndexer interface {
	Index(ctx context.Context, a models.Announcement) error
}

// AnnouncementStore appends the per-recipient audit rows. Rows are never
// updated or deleted.
type AnnouncementStore struct {
	db      *sql.DB
	logger  logger.Logger
	indexer AnnouncementIndexer
}

func NewAnnouncementStore(db *sql.DB, log logger.Logger) *AnnouncementStore {
	return &AnnouncementStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"store": "announcements"}),
	}
}

// WithIndexer enables the best-effort search mirror.
func (s *AnnouncementStore) WithIndexer(indexer AnnouncementIndexer) *AnnouncementStore {
	s.indexer = indexer
	return s
}

// Append inserts a. Index failures are logged and never fail the append.
func (s *AnnouncementStore) Append(ctx context.Context, a models.Announcement) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO announcements (title, brief, is_link, where_to_look, link_name, person_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		a.Title, a.Brief, a.IsLink, a.WhereToLook, a.LinkName, a.PersonID,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.NewPersistenceError("append announcement", err)
	}

	if s.indexer != nil {
		if err := s.indexer.Index(ctx, a); err != nil {
			s.logger.Warn("announcement index failed", map[string]interface{}{
				"announcementId": a.ID,
				"personId":       a.PersonID,
				"error":          err,
			})
		}
	}
	return nil
}
