// Package resolve decides who receives an email group.
package resolve

import (
	"context"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
)

// Directory is the subset of the user directory the resolver reads.
type Directory interface {
	ActiveVerifiedUsers(ctx context.Context, role *string) ([]models.Person, error)
	ShortlistRecipients(ctx context.Context, shortlistID string) ([]models.Person, error)
}

type Resolver struct {
	directory Directory
	logger    logger.Logger
}

func New(directory Directory, log logger.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    log.WithFields(map[string]interface{}{"component": "resolve"}),
	}
}

// Resolve returns the recipients of group under policy:
//
//   - targeted SHORTLIST groups go to the people on the shortlist
//   - other targeted groups go to every active verified user
//   - untargeted groups go to active verified users holding policy.Role
//
// A targeted SHORTLIST group without a shortlist fails with MISSING_ENTITY
// and never widens to the whole directory. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, group models.EmailGroup, policy models.DeliveryPolicy) ([]models.Recipient, error) {
	var (
		people []models.Person
		err    error
	)

	switch {
	case policy.OnlyForTarget && group.Type == models.FactTypeShortlist:
		if group.ShortlistID == nil || *group.ShortlistID == "" {
			return nil, errors.NewMissingEntityError("shortlist", group.Key)
		}
		people, err = r.directory.ShortlistRecipients(ctx, *group.ShortlistID)
	case policy.OnlyForTarget:
		people, err = r.directory.ActiveVerifiedUsers(ctx, nil)
	default:
		people, err = r.directory.ActiveVerifiedUsers(ctx, policy.Role)
	}
	if err != nil {
		return nil, err
	}

	recipients := make([]models.Recipient, 0, len(people))
	seen := make(map[string]struct{}, len(people))
	for _, p := range people {
		if p.Email == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		recipients = append(recipients, models.RecipientFromPerson(p))
	}

	r.logger.Debug("recipients resolved", map[string]interface{}{
		"type":       group.Type,
		"key":        group.Key,
		"recipients": len(recipients),
	})
	return recipients, nil
}
