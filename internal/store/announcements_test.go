package store

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	indexed []models.Announcement
	err     error
}

func (r *recordingIndexer) Index(_ context.Context, a models.Announcement) error {
	r.indexed = append(r.indexed, a)
	return r.err
}

func testAnnouncement() models.Announcement {
	return models.Announcement{
		Title:       "Finance prep material updated",
		Brief:       "Finance prep page has new material",
		IsLink:      true,
		WhereToLook: "https://x/finance",
		LinkName:    "domain_link",
		PersonID:    "u-1",
	}
}

func TestAnnouncementStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	a := testAnnouncement()
	mock.ExpectQuery(`INSERT INTO announcements`).
		WithArgs(a.Title, a.Brief, true, a.WhereToLook, a.LinkName, "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(41), now))

	idx := &recordingIndexer{}
	s := NewAnnouncementStore(db, logger.NewTestLogger(t)).WithIndexer(idx)

	require.NoError(t, s.Append(context.Background(), a))
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, int64(41), idx.indexed[0].ID)
	assert.Equal(t, now, idx.indexed[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementStore_Append_IndexFailureIgnored(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO announcements`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	idx := &recordingIndexer{err: stderrors.New("cluster red")}
	s := NewAnnouncementStore(db, logger.NewTestLogger(t)).WithIndexer(idx)

	assert.NoError(t, s.Append(context.Background(), testAnnouncement()))
	assert.Len(t, idx.indexed, 1)
}

func TestAnnouncementStore_Append_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO announcements`).
		WillReturnError(stderrors.New("disk full"))

	idx := &recordingIndexer{}
	s := NewAnnouncementStore(db, logger.NewTestLogger(t)).WithIndexer(idx)

	err = s.Append(context.Background(), testAnnouncement())
	assert.True(t, stderrors.Is(err, errors.ErrPersistence))
	assert.Empty(t, idx.indexed)
}
