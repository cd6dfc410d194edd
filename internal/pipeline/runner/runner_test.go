package runner

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/collate"
	"placement-mailer/internal/pipeline/dispatch"
	"placement-mailer/internal/pipeline/resolve"
	"placement-mailer/internal/transport/email"
)

// memStore backs every store interface of a run with in-memory state.
type memStore struct {
	mu            sync.Mutex
	facts         []models.Fact
	policies      map[models.FactType]models.DeliveryPolicy
	users         []models.Person
	shortlists    map[string][]models.Person
	companies     map[string]models.Company
	announcements []models.Announcement
	listErr       error
}

func newMemStore() *memStore {
	return &memStore{
		policies:   map[models.FactType]models.DeliveryPolicy{},
		shortlists: map[string][]models.Person{},
		companies:  map[string]models.Company{},
	}
}

func (m *memStore) ListUnhandled(ctx context.Context) ([]models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Fact
	for _, f := range m.facts {
		if !f.IsHandled {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) MarkHandled(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.facts {
			if m.facts[i].ID == id {
				m.facts[i].IsHandled = true
			}
		}
	}
	return nil
}

func (m *memStore) GetOrCreateDefault(ctx context.Context, t models.FactType) (*models.DeliveryPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[t]
	if !ok {
		p = models.DefaultPolicy(t)
		m.policies[t] = p
	}
	return &p, nil
}

func (m *memStore) Append(ctx context.Context, a models.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements = append(m.announcements, a)
	return nil
}

func (m *memStore) ActiveVerifiedUsers(ctx context.Context, role *string) ([]models.Person, error) {
	out := []models.Person{}
	for _, u := range m.users {
		if role == nil || u.Role == *role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) ShortlistRecipients(ctx context.Context, id string) ([]models.Person, error) {
	return append([]models.Person{}, m.shortlists[id]...), nil
}

func (m *memStore) Company(ctx context.Context, id string) (*models.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, errors.NewMissingEntityError("company", id)
	}
	return &c, nil
}

func (m *memStore) Shortlist(ctx context.Context, id string) (*models.Shortlist, error) {
	return &models.Shortlist{ID: id, CompanyName: "Acme", Title: "SDE"}, nil
}

func (m *memStore) Domain(ctx context.Context, name string) (*models.Domain, error) {
	return &models.Domain{Name: name, Title: "Finance"}, nil
}

func (m *memStore) handled(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.facts {
		if f.ID == id {
			return f.IsHandled
		}
	}
	return false
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []email.Message
	fail map[string]bool
}

func (t *recordingTransport) Send(ctx context.Context, msg email.Message) (*email.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[msg.Bcc[0]] {
		return nil, errors.NewTransportError("test", stderrors.New("rejected"))
	}
	t.sent = append(t.sent, msg)
	return &email.SendResult{MessageID: "id", Provider: "test"}, nil
}

func (t *recordingTransport) Provider() string { return "test" }

func strPtr(s string) *string { return &s }

func newTestRunner(t *testing.T, store *memStore, tr email.Transport) *Runner {
	log := logger.NewTestLogger(t)
	return New(Dependencies{
		Facts:      store,
		Policies:   store,
		Collator:   collate.New(store, time.UTC, log),
		Resolver:   resolve.New(store, log),
		Dispatcher: dispatch.New(tr, store, store, dispatch.Options{
			From:                         "noreply@college.edu",
			OrganizationAddress:          "placements@college.edu",
			Concurrency:                  2,
			SendTimeout:                  time.Second,
			MarkHandledWithoutRecipients: true,
		}, log),
		Logger: log,
	})
}

func prepFact() models.Fact {
	return models.Fact{
		ID:        1,
		Type:      models.FactTypePrep,
		Subtype:   models.SubtypeUpdated,
		Domain:    strPtr("FINANCE"),
		Links:     []models.Link{{Link: "https://x/finance", LinkName: "domain_link"}},
		UpdatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestRun_PrepFactReachesEveryActiveUser(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true}
	store.users = []models.Person{
		{ID: "u-1", Name: "alice", Email: "alice@college.edu", ContactID: "21CS001"},
		{ID: "u-2", Name: "bob", Email: "bob@college.edu", ContactID: "21CS002"},
	}
	tr := &recordingTransport{}

	report, err := newTestRunner(t, store, tr).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Len(t, tr.sent, 2)
	for _, msg := range tr.sent {
		assert.Equal(t, []string{"placements@college.edu"}, msg.To)
		assert.Len(t, msg.Bcc, 1)
	}
	assert.Len(t, store.announcements, 2)
	assert.True(t, store.handled(1))
	assert.Equal(t, 1, report.FactsMarked)
	assert.Equal(t, 2, report.Sent)
}

func TestRun_ZeroRecipientsStillMarksHandled(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true}
	tr := &recordingTransport{}

	report, err := newTestRunner(t, store, tr).Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, tr.sent)
	assert.Empty(t, store.announcements)
	assert.True(t, store.handled(1))
	assert.Equal(t, 1, report.FactsMarked)
}

func TestRun_PolicyGateHoldsFacts(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.users = []models.Person{{ID: "u-1", Name: "alice", Email: "alice@college.edu"}}
	tr := &recordingTransport{}

	report, err := newTestRunner(t, store, tr).Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, tr.sent)
	assert.False(t, store.handled(1))
	assert.Equal(t, 1, report.FactsGated)
	assert.Equal(t, 0, report.Groups)

	// a default, closed policy was created on first sight
	p, ok := store.policies[models.FactTypePrep]
	require.True(t, ok)
	assert.False(t, p.SendEmail)
	assert.Contains(t, report.DelayHints, models.FactTypePrep)
}

func TestRun_AllSendsFailLeavesFactUnhandled(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true}
	store.users = []models.Person{{ID: "u-1", Name: "alice", Email: "alice@college.edu"}}
	tr := &recordingTransport{fail: map[string]bool{"alice@college.edu": true}}

	report, err := newTestRunner(t, store, tr).Run(context.Background())

	require.NoError(t, err)
	assert.False(t, store.handled(1))
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, store.announcements)
}

func TestRun_MissingEntitySkipsFact(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{{
		ID: 5, Type: models.FactTypeCompany, Subtype: "NEW", CompanyID: strPtr("gone"),
	}}
	store.policies[models.FactTypeCompany] = models.DeliveryPolicy{Type: models.FactTypeCompany, SendEmail: true, OnlyForTarget: true}

	report, err := newTestRunner(t, store, &recordingTransport{}).Run(context.Background())

	require.NoError(t, err)
	assert.False(t, store.handled(5))
	assert.Equal(t, 1, report.FactsSkipped)
}

// shortlistlessCollator collates normally and adds a shortlist group that
// names no shortlist.
type shortlistlessCollator struct {
	inner Collator
}

func (c shortlistlessCollator) Collate(ctx context.Context, facts []models.Fact) (*collate.Result, error) {
	var rest []models.Fact
	for _, f := range facts {
		if f.Type != models.FactTypeShortlist {
			rest = append(rest, f)
		}
	}
	res, err := c.inner.Collate(ctx, rest)
	if err != nil {
		return nil, err
	}
	res.Groups = append(res.Groups, models.EmailGroup{
		Type:    models.FactTypeShortlist,
		Key:     "sl-unknown",
		Subject: "Shortlist",
		Body:    "<p>Dear {{name}},</p>",
		FactIDs: []int64{9},
	})
	return res, nil
}

func TestRun_ShortlistGroupWithoutShortlistIsSkipped(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{
		prepFact(),
		{ID: 9, Type: models.FactTypeShortlist, Subtype: models.SubtypeShortlist},
	}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true}
	store.policies[models.FactTypeShortlist] = models.DeliveryPolicy{Type: models.FactTypeShortlist, SendEmail: true, OnlyForTarget: true}
	store.users = []models.Person{{ID: "u-1", Name: "alice", Email: "alice@college.edu"}}
	tr := &recordingTransport{}

	r := newTestRunner(t, store, tr)
	r.deps.Collator = shortlistlessCollator{inner: r.deps.Collator}

	report, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	// only the prep group reached alice
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Finance preparation material updated", tr.sent[0].Subject)
	assert.True(t, store.handled(1))
	assert.False(t, store.handled(9))
	assert.Equal(t, 1, report.FactsSkipped)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, []int64{9}, report.Skipped[0].FactIDs)
	assert.Equal(t, models.FactTypeShortlist, report.Skipped[0].Type)
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true}
	store.users = []models.Person{{ID: "u-1", Name: "alice", Email: "alice@college.edu"}}
	tr := &recordingTransport{}
	r := newTestRunner(t, store, tr)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, report.Outcome)
	assert.Len(t, tr.sent, 1)
}

func TestRun_PersistenceErrorAborts(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.NewPersistenceError("list unhandled facts", stderrors.New("connection reset"))

	report, err := newTestRunner(t, store, &recordingTransport{}).Run(context.Background())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrPersistence))
	require.NotNil(t, report)
	assert.Equal(t, OutcomeFailed, report.Outcome)
}

type MockLock struct {
	mock.Mock
}

func (m *MockLock) Acquire(ctx context.Context) (Release, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Release), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, report *RunReport) error {
	return m.Called(ctx, report).Error(0)
}

func TestRun_LockHeldElsewhere(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}

	lock := new(MockLock)
	lock.On("Acquire", mock.Anything).Return(nil, errors.NewRunInProgressError("run-1"))
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(r *RunReport) bool {
		return r.Outcome == OutcomeInProgress
	})).Return(nil)

	log := logger.NewTestLogger(t)
	r := New(Dependencies{
		Facts:     store,
		Policies:  store,
		Lock:      lock,
		Publisher: publisher,
		Logger:    log,
	})

	report, err := r.Run(context.Background())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRunInProgress))
	assert.Equal(t, OutcomeInProgress, report.Outcome)
	assert.Equal(t, 0, report.FactsLoaded)
	publisher.AssertExpectations(t)
}

func TestRun_PublishesReport(t *testing.T) {
	store := newMemStore()
	store.facts = []models.Fact{prepFact()}
	store.policies[models.FactTypePrep] = models.DeliveryPolicy{Type: models.FactTypePrep, SendEmail: true, OnlyForTarget: true, DelayMinutes: 15}
	store.users = []models.Person{{ID: "u-1", Name: "alice", Email: "alice@college.edu"}}

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(r *RunReport) bool {
		return r.Outcome == OutcomeCompleted && r.Sent == 1 && r.DelayHints[models.FactTypePrep] == 15
	})).Return(stderrors.New("sns down"))

	r := newTestRunner(t, store, &recordingTransport{})
	r.deps.Publisher = publisher

	_, err := r.Run(context.Background())

	require.NoError(t, err)
	publisher.AssertExpectations(t)
}
