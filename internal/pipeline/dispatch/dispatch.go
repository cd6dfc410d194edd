// Package dispatch personalizes email groups and sends them one recipient at
// a time.
package dispatch

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/template"
	"placement-mailer/internal/transport/email"
)

type FactMarker interface {
	MarkHandled(ctx context.Context, ids []int64) error
}

type AnnouncementAppender interface {
	Append(ctx context.Context, a models.Announcement) error
}

type Options struct {
	From                         string
	OrganizationAddress          string
	Concurrency                  int
	SendTimeout                  time.Duration
	MarkHandledWithoutRecipients bool
}

type Dispatcher struct {
	transport     email.Transport
	announcements AnnouncementAppender
	facts         FactMarker
	opts          Options
	logger        logger.Logger
}

func New(transport email.Transport, announcements AnnouncementAppender, facts FactMarker, opts Options, log logger.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Dispatcher{
		transport:     transport,
		announcements: announcements,
		facts:         facts,
		opts:          opts,
		logger:        log.WithFields(map[string]interface{}{"component": "dispatch", "provider": transport.Provider()}),
	}
}

// Result summarizes the delivery of one group.
type Result struct {
	Type       models.FactType `json:"type"`
	Key        string          `json:"key"`
	Recipients int             `json:"recipients"`
	Sent       int             `json:"sent"`
	Failed     int             `json:"failed"`
	Handled    bool            `json:"handled"`
}

// Personalize fills the recipient tokens of a rendered HTML body. Values are
// escaped; this is the last pass over the body.
func Personalize(body string, r models.Recipient) string {
	return template.Render(body, map[string]string{
		template.TokenName:      template.HTMLValue(template.TitleCase(r.DisplayName)),
		template.TokenContactID: template.HTMLValue(r.ExternalID),
		template.TokenEmail:     template.HTMLValue(r.ContactAddress),
	})
}

// Dispatch sends group to every recipient. A failed send is logged and
// skipped. Each success appends an announcement and marks the group's facts
// handled, which is idempotent. A group with no recipients is
// marked handled only when configured to. Persistence errors abort and are
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, group models.EmailGroup, recipients []models.Recipient) (*Result, error) {
	result := &Result{Type: group.Type, Key: group.Key, Recipients: len(recipients)}

	if len(recipients) == 0 {
		d.logger.Info("group has no recipients", map[string]interface{}{
			"type":    group.Type,
			"key":     group.Key,
			"factIds": group.FactIDs,
			"mark":    d.opts.MarkHandledWithoutRecipients,
		})
		if !d.opts.MarkHandledWithoutRecipients {
			return result, nil
		}
		if err := d.facts.MarkHandled(ctx, group.FactIDs); err != nil {
			return nil, err
		}
		result.Handled = true
		return result, nil
	}

	var (
		sent, failed atomic.Int64
		handled      atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for _, r := range recipients {
		r := r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			if err := d.send(gctx, group, r); err != nil {
				failed.Add(1)
				metrics.EmailsFailed.WithLabelValues(d.transport.Provider()).Inc()
				d.logger.Warn("email delivery failed", map[string]interface{}{
					"type":      group.Type,
					"key":       group.Key,
					"personId":  r.PersonID,
					"errorCode": errors.AsStandard(err).Code,
					"error":     err.Error(),
				})
				return nil
			}

			sent.Add(1)
			metrics.EmailsSent.WithLabelValues(d.transport.Provider()).Inc()

			if err := d.announcements.Append(gctx, models.AnnouncementFor(group, r.PersonID)); err != nil {
				return err
			}
			if err := d.facts.MarkHandled(gctx, group.FactIDs); err != nil {
				return err
			}
			handled.Store(true)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Sent = int(sent.Load())
	result.Failed = int(failed.Load())
	result.Handled = handled.Load()

	d.logger.Info("group dispatched", map[string]interface{}{
		"type":       group.Type,
		"key":        group.Key,
		"recipients": result.Recipients,
		"sent":       result.Sent,
		"failed":     result.Failed,
		"handled":    result.Handled,
	})
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, group models.EmailGroup, r models.Recipient) error {
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}

	_, err := d.transport.Send(ctx, email.Message{
		From:    d.opts.From,
		To:      []string{d.opts.OrganizationAddress},
		Bcc:     []string{r.ContactAddress},
		Subject: group.Subject,
		HTML:    Personalize(group.Body, r),
	})
	if err != nil && stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError(d.transport.Provider(), err)
	}
	return err
}
