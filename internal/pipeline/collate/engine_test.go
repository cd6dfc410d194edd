package collate

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/dispatch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEntityLookup struct {
	mock.Mock
}

func (m *MockEntityLookup) Company(ctx context.Context, id string) (*models.Company, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Company), args.Error(1)
}

func (m *MockEntityLookup) Shortlist(ctx context.Context, id string) (*models.Shortlist, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shortlist), args.Error(1)
}

func (m *MockEntityLookup) Domain(ctx context.Context, name string) (*models.Domain, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Domain), args.Error(1)
}

func strPtr(s string) *string { return &s }

var (
	t1 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(2 * time.Hour)
)

func contentFact(id int64, company, subtype, url string, at time.Time) models.Fact {
	return models.Fact{
		ID:        id,
		Type:      models.FactTypeContent,
		Subtype:   subtype,
		CompanyID: strPtr(company),
		Links:     []models.Link{{Link: url, LinkName: "jd_link"}},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestCollate_ContentKeepsLatestLinkAndConsumesAllFacts(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil).Once()

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		contentFact(1, "c-1", models.SubtypeAdded, "https://x/jd-v1", t1),
		contentFact(2, "c-1", models.SubtypeUpdated, "https://x/jd-v2", t2),
	})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, models.FactTypeContent, g.Type)
	assert.Equal(t, "c-1", g.Key)
	assert.ElementsMatch(t, []int64{1, 2}, g.FactIDs)
	assert.Equal(t, "https://x/jd-v2", g.WhereToLook)
	assert.Equal(t, "jd_link", g.LinkName)
	assert.Equal(t, "Material updated for Acme", g.Subject)
	assert.Contains(t, g.Body, "https://x/jd-v2")
	assert.NotContains(t, g.Body, "https://x/jd-v1")
	assert.Contains(t, g.Body, "Monday, 02 Mar 2026 at 12:00 PM UTC")
	assert.Empty(t, res.Skipped)
	entities.AssertExpectations(t)
}

func TestCollate_ContentTieKeepsEarlierFact(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		contentFact(1, "c-1", models.SubtypeAdded, "https://x/first", t1),
		contentFact(2, "c-1", models.SubtypeAdded, "https://x/second", t1),
	})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "https://x/first", res.Groups[0].WhereToLook)
	assert.NotContains(t, res.Groups[0].Body, "https://x/second")
	assert.ElementsMatch(t, []int64{1, 2}, res.Groups[0].FactIDs)
}

func TestReduceLinks_DistinctNames(t *testing.T) {
	a := contentFact(1, "c-1", models.SubtypeAdded, "https://x/jd", t1)
	b := models.Fact{
		ID:        2,
		Type:      models.FactTypeContent,
		Subtype:   models.SubtypeUpdated,
		CompanyID: strPtr("c-1"),
		Links:     []models.Link{{Link: "https://x/brochure", LinkName: "brochure_link"}},
		UpdatedAt: t2,
	}

	r := ReduceLinks([]models.Fact{a, b})

	require.Len(t, r.Links, 2)
	assert.Equal(t, "jd_link", r.Links[0].Link.LinkName)
	assert.Equal(t, "brochure_link", r.Links[1].Link.LinkName)
	assert.Equal(t, int64(2), r.Latest.ID)
	require.NotNil(t, r.Primary())
	assert.Equal(t, "https://x/brochure", r.Primary().Link.Link)
}

func TestCollate_ShortlistLeavesRecipientTokens(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Shortlist", mock.Anything, "s-1").Return(&models.Shortlist{
		ID: "s-1", CompanyID: "c-1", CompanyName: "Acme", Title: "SDE Intern",
	}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{{
		ID:          7,
		Type:        models.FactTypeShortlist,
		Subtype:     models.SubtypeShortlist,
		ShortlistID: strPtr("s-1"),
		Links:       []models.Link{{Link: "https://x/list?a=1&b=2", LinkName: "shortlist_link"}},
	}})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, "Shortlist released: Acme - SDE Intern", g.Subject)
	assert.Contains(t, g.Body, "{{name}}")
	assert.Contains(t, g.Body, "{{contact_id}}")
	assert.Contains(t, g.Body, `href="https://x/list?a=1&amp;b=2"`)
	assert.Contains(t, g.Body, "Shortlist Link")
	require.NotNil(t, g.ShortlistID)
	assert.Equal(t, "s-1", *g.ShortlistID)
	assert.Equal(t, []int64{7}, g.FactIDs)
}

func TestCollate_CompanyAndPrep(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil)
	entities.On("Domain", mock.Anything, "FINANCE").Return(&models.Domain{Name: "FINANCE"}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		{ID: 1, Type: models.FactTypeCompany, Subtype: "NEW_OPENING", CompanyID: strPtr("c-1")},
		{ID: 2, Type: models.FactTypePrep, Subtype: models.SubtypeUpdated, Domain: strPtr("FINANCE"), UpdatedAt: t1},
	})

	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.Equal(t, "Acme: New Opening", res.Groups[0].Subject)
	assert.NotContains(t, res.Groups[0].Body, "{{link_block}}")
	assert.Empty(t, res.Groups[0].WhereToLook)
	assert.Equal(t, "Finance preparation material updated", res.Groups[1].Subject)
	assert.Equal(t, "FINANCE", res.Groups[1].Key)
}

func TestCollate_GroupsFollowFirstSeenOrder(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil).Once()
	entities.On("Shortlist", mock.Anything, "s-1").Return(&models.Shortlist{ID: "s-1", CompanyName: "Acme", Title: "SDE"}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		contentFact(1, "c-1", models.SubtypeAdded, "https://x/a", t1),
		{ID: 2, Type: models.FactTypeShortlist, Subtype: models.SubtypeShortlist, ShortlistID: strPtr("s-1")},
		contentFact(3, "c-1", models.SubtypeAdded, "https://x/b", t2),
	})

	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.Equal(t, models.FactTypeContent, res.Groups[0].Type)
	assert.Equal(t, []int64{1, 3}, res.Groups[0].FactIDs)
	assert.Equal(t, models.FactTypeShortlist, res.Groups[1].Type)
	entities.AssertExpectations(t)
}

func TestCollate_MissingEntitySkipsOnlyThatFact(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Shortlist", mock.Anything, "gone").Return(nil, errors.NewMissingEntityError("shortlist", "gone"))
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		{ID: 1, Type: models.FactTypeShortlist, Subtype: models.SubtypeShortlist, ShortlistID: strPtr("gone")},
		{ID: 2, Type: models.FactTypeCompany, Subtype: "NEW", CompanyID: strPtr("c-1")},
	})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, []int64{2}, res.Groups[0].FactIDs)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, []int64{1}, res.Skipped[0].FactIDs)
	assert.Equal(t, models.FactTypeShortlist, res.Skipped[0].Type)
	assert.Equal(t, 1, res.SkippedFacts())
}

func TestCollate_MissingCompanySkipsWholeContentGroup(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-9").Return(nil, errors.NewMissingEntityError("company", "c-9"))

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		contentFact(4, "c-9", models.SubtypeAdded, "https://x/a", t1),
		contentFact(5, "c-9", models.SubtypeAdded, "https://x/b", t2),
	})

	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 2, res.SkippedFacts())
}

func TestCollate_PersistenceErrorAborts(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(nil, errors.NewPersistenceError("company lookup", stderrors.New("connection refused")))

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		{ID: 1, Type: models.FactTypeCompany, Subtype: "NEW", CompanyID: strPtr("c-1")},
	})

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, stderrors.Is(err, errors.ErrPersistence))
}

func TestCollate_UnknownTypeIsSkipped(t *testing.T) {
	e := New(new(MockEntityLookup), time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{
		{ID: 1, Type: "NEWS", Subtype: "ADDED", CompanyID: strPtr("c-1")},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, []int64{1}, res.Skipped[0].FactIDs)
}

func TestCollate_Empty(t *testing.T) {
	e := New(new(MockEntityLookup), nil, logger.NewNoOpLogger())
	res, err := e.Collate(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Empty(t, res.Skipped)
}

func TestCollate_GroupValuesCannotReachRecipientPass(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Shortlist", mock.Anything, "s-1").Return(&models.Shortlist{
		ID: "s-1", CompanyID: "c-1", CompanyName: "AT&T <b>{{email}}</b>", Title: "SDE & Intern",
	}, nil)

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{{
		ID:          1,
		Type:        models.FactTypeShortlist,
		Subtype:     models.SubtypeShortlist,
		ShortlistID: strPtr("s-1"),
		Links:       []models.Link{{Link: "https://x/l", LinkName: "name"}},
	}})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]

	// plain text keeps the raw value
	assert.Equal(t, "Shortlist released: AT&T <b>{{email}}</b> - SDE & Intern", g.Subject)
	assert.Equal(t, "https://x/l", g.WhereToLook)

	body := dispatch.Personalize(g.Body, models.Recipient{
		PersonID: "u-1", DisplayName: "alice rao", ContactAddress: "alice@x.edu", ExternalID: "21CS001",
	})
	assert.Contains(t, body, "<p>Dear Alice Rao,</p>")
	assert.Contains(t, body, "<b>AT&amp;T &lt;b&gt;&#123;&#123;email}}&lt;/b&gt;</b>")
	assert.Contains(t, body, "<b>SDE &amp; Intern</b>")
	assert.Contains(t, body, "21CS001")
	assert.NotContains(t, body, "alice@x.edu")
	assert.NotContains(t, body, "Dear https://x/l")
}

func TestCollate_ContentLinkNamedLikeRecipientToken(t *testing.T) {
	entities := new(MockEntityLookup)
	entities.On("Company", mock.Anything, "c-1").Return(&models.Company{ID: "c-1", Name: "Acme"}, nil)

	f := contentFact(1, "c-1", models.SubtypeAdded, "https://x/contact", t1)
	f.Links = []models.Link{{Link: "https://x/contact", LinkName: "email"}}

	e := New(entities, time.UTC, logger.NewTestLogger(t))
	res, err := e.Collate(context.Background(), []models.Fact{f})

	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Contains(t, g.Body, `<li><a href="https://x/contact">Email</a></li>`)
	assert.Contains(t, g.Body, "{{name}}")

	body := dispatch.Personalize(g.Body, models.Recipient{DisplayName: "bob", ContactAddress: "bob@x.edu"})
	assert.Contains(t, body, "Dear Bob,")
}
