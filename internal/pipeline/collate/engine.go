// Package collate turns unhandled facts into rendered email groups.
package collate

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/template"
)

// EntityLookup resolves the placement-app rows facts refer to. A vanished
// row must surface as a MISSING_ENTITY error.
type EntityLookup interface {
	Company(ctx context.Context, id string) (*models.Company, error)
	Shortlist(ctx context.Context, id string) (*models.Shortlist, error)
	Domain(ctx context.Context, name string) (*models.Domain, error)
}

// Skipped records facts left unhandled by collation.
type Skipped struct {
	FactIDs []int64         `json:"factIds"`
	Type    models.FactType `json:"type"`
	Reason  string          `json:"reason"`
}

type Result struct {
	Groups  []models.EmailGroup
	Skipped []Skipped
}

// SkippedFacts counts the facts across every skip.
func (r *Result) SkippedFacts() int {
	n := 0
	for _, s := range r.Skipped {
		n += len(s.FactIDs)
	}
	return n
}

type Engine struct {
	entities EntityLookup
	loc      *time.Location
	logger   logger.Logger
}

func New(entities EntityLookup, loc *time.Location, log logger.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		entities: entities,
		loc:      loc,
		logger:   log.WithFields(map[string]interface{}{"component": "collate"}),
	}
}

// unit is either a single fact or the CONTENT facts of one company.
type unit struct {
	single    *models.Fact
	companyID string
	content   []models.Fact
}

// Collate groups facts by type. SHORTLIST, COMPANY and PREP facts each
// become one group; CONTENT facts become one group per company. Groups come
// out in the order their first fact was seen. Facts whose entity is missing
// are skipped; any other lookup failure aborts.
func (e *Engine) Collate(ctx context.Context, facts []models.Fact) (*Result, error) {
	var (
		units     []*unit
		byCompany = map[string]*unit{}
		result    = &Result{}
	)

	for i := range facts {
		f := facts[i]
		if f.Type != models.FactTypeContent {
			units = append(units, &unit{single: &f})
			continue
		}
		if f.CompanyID == nil {
			e.skip(result, f.Type, []int64{f.ID}, "no_company", "content fact without company")
			continue
		}
		u, ok := byCompany[*f.CompanyID]
		if !ok {
			u = &unit{companyID: *f.CompanyID}
			byCompany[*f.CompanyID] = u
			units = append(units, u)
		}
		u.content = append(u.content, f)
	}

	for _, u := range units {
		var (
			group *models.EmailGroup
			err   error
			ids   []int64
			typ   models.FactType
		)
		if u.single != nil {
			ids, typ = []int64{u.single.ID}, u.single.Type
			group, err = e.render(ctx, *u.single)
		} else {
			ids, typ = factIDs(u.content), models.FactTypeContent
			group, err = e.renderContent(ctx, u.companyID, u.content)
		}

		if err != nil {
			switch {
			case stderrors.Is(err, errors.ErrMissingEntity):
				e.skip(result, typ, ids, "missing_entity", err.Error())
				continue
			case stderrors.Is(err, errUnknownType):
				e.skip(result, typ, ids, "unknown_type", err.Error())
				continue
			}
			return nil, err
		}

		metrics.GroupsCollated.WithLabelValues(string(group.Type)).Inc()
		result.Groups = append(result.Groups, *group)
	}

	e.logger.Info("collation finished", map[string]interface{}{
		"facts":   len(facts),
		"groups":  len(result.Groups),
		"skipped": result.SkippedFacts(),
	})
	return result, nil
}

var errUnknownType = stderrors.New("no renderer for fact type")

// render dispatches a single-fact group to its type's renderer.
func (e *Engine) render(ctx context.Context, f models.Fact) (*models.EmailGroup, error) {
	switch f.Type {
	case models.FactTypeShortlist:
		return e.renderShortlist(ctx, f)
	case models.FactTypeCompany:
		return e.renderCompany(ctx, f)
	case models.FactTypePrep:
		return e.renderPrep(ctx, f)
	case models.FactTypeContent:
		if f.CompanyID == nil {
			return nil, errors.NewMissingEntityError("company", "")
		}
		return e.renderContent(ctx, *f.CompanyID, []models.Fact{f})
	}
	return nil, fmt.Errorf("%w: %s", errUnknownType, f.Type)
}

func (e *Engine) renderShortlist(ctx context.Context, f models.Fact) (*models.EmailGroup, error) {
	if f.ShortlistID == nil {
		return nil, errors.NewMissingEntityError("shortlist", "")
	}
	shortlist, err := e.entities.Shortlist(ctx, *f.ShortlistID)
	if err != nil {
		return nil, err
	}

	tmpl, ok := shortlistTemplates[f.Subtype]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errUnknownType, f.Type, f.Subtype)
	}

	tokens := linkTokens(f.Links)
	tokens["company_name"] = shortlist.CompanyName
	tokens["shortlist_title"] = shortlist.Title

	group := build(models.FactTypeShortlist, shortlist.ID, tmpl, tokens, primaryLink(f.Links), nil, []int64{f.ID})
	group.ShortlistID = &shortlist.ID
	return group, nil
}

func (e *Engine) renderCompany(ctx context.Context, f models.Fact) (*models.EmailGroup, error) {
	if f.CompanyID == nil {
		return nil, errors.NewMissingEntityError("company", "")
	}
	company, err := e.entities.Company(ctx, *f.CompanyID)
	if err != nil {
		return nil, err
	}

	tokens := linkTokens(f.Links)
	tokens["company_name"] = company.Name
	tokens["subtype_label"] = template.Humanize(strings.ToLower(f.Subtype))

	return build(models.FactTypeCompany, company.ID, companyTemplate, tokens, primaryLink(f.Links), nil, []int64{f.ID}), nil
}

func (e *Engine) renderPrep(ctx context.Context, f models.Fact) (*models.EmailGroup, error) {
	if f.Domain == nil {
		return nil, errors.NewMissingEntityError("domain", "")
	}
	domain, err := e.entities.Domain(ctx, *f.Domain)
	if err != nil {
		return nil, err
	}

	title := domain.Title
	if title == "" {
		title = template.Humanize(strings.ToLower(domain.Name))
	}

	tokens := linkTokens(f.Links)
	tokens["domain_title"] = title
	tokens["updated_at"] = template.LocalDateTime(f.UpdatedAt, e.loc)

	return build(models.FactTypePrep, domain.Name, prepTemplate, tokens, primaryLink(f.Links), nil, []int64{f.ID}), nil
}

// renderContent renders one email for all CONTENT facts of a company. Every
// fact is consumed, but each link name is rendered once with its latest URL.
func (e *Engine) renderContent(ctx context.Context, companyID string, facts []models.Fact) (*models.EmailGroup, error) {
	company, err := e.entities.Company(ctx, companyID)
	if err != nil {
		return nil, err
	}

	reduced := ReduceLinks(facts)

	tmpl, ok := contentTemplates[reduced.Latest.Subtype]
	if !ok {
		tmpl = contentTemplates[models.SubtypeUpdated]
	}

	var list strings.Builder
	for _, k := range reduced.Links {
		fmt.Fprintf(&list, `<li><a href="%s">%s</a></li>`,
			template.HTMLValue(k.Link.Link), template.HTMLValue(template.Humanize(k.Link.LinkName)))
	}

	tokens := map[string]string{}
	for _, k := range reduced.Links {
		if template.IsRecipientToken(k.Link.LinkName) {
			continue
		}
		tokens[k.Link.LinkName] = k.Link.Link
	}
	tokens["company_name"] = company.Name
	tokens["updated_at"] = template.LocalDateTime(reduced.Latest.UpdatedAt, e.loc)

	var primary *models.Link
	if p := reduced.Primary(); p != nil {
		primary = &p.Link
	}
	return build(models.FactTypeContent, company.ID, tmpl, tokens, primary,
		map[string]string{"link_list": list.String()}, factIDs(facts)), nil
}

// KeptLink is the winning link of one link name.
type KeptLink struct {
	Link      models.Link
	FactID    int64
	UpdatedAt time.Time
}

// Reduction is the result of folding a company's CONTENT facts.
type Reduction struct {
	Links  []KeptLink  // one per distinct link name, in first-seen order
	Latest models.Fact // overall latest fact
}

// Primary returns the kept link with the latest timestamp, or nil.
func (r Reduction) Primary() *KeptLink {
	var best *KeptLink
	for i := range r.Links {
		if best == nil || r.Links[i].UpdatedAt.After(best.UpdatedAt) {
			best = &r.Links[i]
		}
	}
	return best
}

// ReduceLinks keeps, per link name, the link of the fact with the strictly
// greatest UpdatedAt. Equal timestamps keep the earlier-seen fact. facts
// must be non-empty.
func ReduceLinks(facts []models.Fact) Reduction {
	var r Reduction
	index := map[string]int{}

	for i, f := range facts {
		if i == 0 || f.UpdatedAt.After(r.Latest.UpdatedAt) {
			r.Latest = f
		}
		for _, l := range f.Links {
			pos, seen := index[l.LinkName]
			if !seen {
				index[l.LinkName] = len(r.Links)
				r.Links = append(r.Links, KeptLink{Link: l, FactID: f.ID, UpdatedAt: f.UpdatedAt})
				continue
			}
			if f.UpdatedAt.After(r.Links[pos].UpdatedAt) {
				r.Links[pos] = KeptLink{Link: l, FactID: f.ID, UpdatedAt: f.UpdatedAt}
			}
		}
	}
	return r
}

func (e *Engine) skip(result *Result, t models.FactType, ids []int64, label, reason string) {
	e.logger.Warn("facts skipped", map[string]interface{}{
		"type":    t,
		"factIds": ids,
		"reason":  reason,
	})
	metrics.FactsSkipped.WithLabelValues(string(t), label).Add(float64(len(ids)))
	result.Skipped = append(result.Skipped, Skipped{FactIDs: ids, Type: t, Reason: reason})
}

// linkTokens exposes every link by its name and its humanized label. Link
// names that clash with a recipient token are not exposed.
func linkTokens(links []models.Link) map[string]string {
	tokens := make(map[string]string, len(links)*2+4)
	for _, l := range links {
		if template.IsRecipientToken(l.LinkName) {
			continue
		}
		if _, exists := tokens[l.LinkName]; exists {
			continue
		}
		tokens[l.LinkName] = l.Link
		tokens[l.LinkName+"_label"] = template.Humanize(l.LinkName)
	}
	return tokens
}

func primaryLink(links []models.Link) *models.Link {
	if len(links) == 0 {
		return nil
	}
	return &links[0]
}

// build renders tmpl. Subject and brief take the plain text tokens; the body
// takes them HTML-escaped plus the prebuilt markup tokens.
func build(t models.FactType, key string, tmpl templateSet, tokens map[string]string, primary *models.Link, markup map[string]string, ids []int64) *models.EmailGroup {
	group := &models.EmailGroup{
		Type:    t,
		Key:     key,
		FactIDs: ids,
	}

	linkBlock := ""
	if primary != nil {
		group.WhereToLook = primary.Link
		group.LinkName = primary.LinkName
		tokens["where_to_look"] = primary.Link
		tokens["link_label"] = template.Humanize(primary.LinkName)
		linkBlock = fmt.Sprintf(`<p>Details: <a href="%s">%s</a></p>`,
			template.HTMLValue(primary.Link), template.HTMLValue(template.Humanize(primary.LinkName)))
	}

	body := make(map[string]string, len(tokens)+len(markup)+1)
	for k, v := range tokens {
		body[k] = template.HTMLValue(v)
	}
	for k, v := range markup {
		body[k] = v
	}
	body["link_block"] = linkBlock

	group.Subject = template.Render(tmpl.subject, tokens)
	group.Brief = template.Render(tmpl.brief, tokens)
	group.Body = template.Render(tmpl.body, body)
	return group
}

func factIDs(facts []models.Fact) []int64 {
	ids := make([]int64, 0, len(facts))
	for _, f := range facts {
		ids = append(ids, f.ID)
	}
	return ids
}
