// Package runner drives one notification pipeline run end to end: gate by
// policy, collate, resolve recipients and dispatch.
package runner

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/common/observability"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/collate"
	"placement-mailer/internal/pipeline/dispatch"
)

type FactSource interface {
	ListUnhandled(ctx context.Context) ([]models.Fact, error)
}

type PolicySource interface {
	GetOrCreateDefault(ctx context.Context, t models.FactType) (*models.DeliveryPolicy, error)
}

type Collator interface {
	Collate(ctx context.Context, facts []models.Fact) (*collate.Result, error)
}

type RecipientResolver interface {
	Resolve(ctx context.Context, group models.EmailGroup, policy models.DeliveryPolicy) ([]models.Recipient, error)
}

type GroupDispatcher interface {
	Dispatch(ctx context.Context, group models.EmailGroup, recipients []models.Recipient) (*dispatch.Result, error)
}

// Dependencies wires a Runner. Publisher and Observability are optional.
type Dependencies struct {
	Facts         FactSource
	Policies      PolicySource
	Collator      Collator
	Resolver      RecipientResolver
	Dispatcher    GroupDispatcher
	Lock          Lock
	Publisher     ReportPublisher
	Observability *observability.Observability
	Logger        logger.Logger
}

type Runner struct {
	deps   Dependencies
	obs    *observability.Observability
	logger logger.Logger
	now    func() time.Time
}

func New(deps Dependencies) *Runner {
	if deps.Lock == nil {
		deps.Lock = NewLocalLock()
	}
	obs := deps.Observability
	if obs == nil {
		obs = &observability.Observability{}
	}
	return &Runner{
		deps:   deps,
		obs:    obs,
		logger: deps.Logger.WithFields(map[string]interface{}{"component": "runner"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one pass over all unhandled facts. Stages run in sequence.
// The returned report is non-nil even on error. A persistence error aborts
// the run; facts not yet marked handled are picked up by the next run.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:      uuid.NewString(),
		StartedAt:  r.now(),
		DelayHints: map[models.FactType]int{},
	}
	log := r.logger.WithFields(map[string]interface{}{"runId": report.RunID})

	ctx, span := r.obs.StartSpan(ctx, "pipeline.run", attribute.String("run.id", report.RunID))
	defer span.End()

	err := r.run(ctx, report, log)

	report.FinishedAt = r.now()
	switch {
	case err == nil && report.FactsLoaded == 0:
		report.Outcome = OutcomeEmpty
	case err == nil:
		report.Outcome = OutcomeCompleted
	case stderrors.Is(err, errors.ErrRunInProgress):
		report.Outcome = OutcomeInProgress
		report.Error = err.Error()
	default:
		report.Outcome = OutcomeFailed
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	metrics.PipelineRuns.WithLabelValues(report.Outcome).Inc()
	metrics.PipelineRunDuration.Observe(report.Duration().Seconds())
	r.obs.RecordRun(ctx, report.Outcome, report.Duration())

	if err != nil {
		log.Error("pipeline run ended with error", report.Fields())
	} else {
		log.Info("pipeline run finished", report.Fields())
	}

	if r.deps.Publisher != nil && report.Outcome != OutcomeEmpty {
		if perr := r.deps.Publisher.Publish(ctx, report); perr != nil {
			log.Warn("failed to publish run report", map[string]interface{}{"error": perr.Error()})
		}
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, report *RunReport, log logger.Logger) error {
	release, err := r.deps.Lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// the run context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.Warn("failed to release run lock", map[string]interface{}{"error": err.Error()})
		}
	}()

	var facts []models.Fact
	if err := r.stage(ctx, "load", func(ctx context.Context) error {
		facts, err = r.deps.Facts.ListUnhandled(ctx)
		return err
	}); err != nil {
		return err
	}
	report.FactsLoaded = len(facts)
	if len(facts) == 0 {
		return nil
	}

	var (
		open     []models.Fact
		policies map[models.FactType]models.DeliveryPolicy
	)
	if err := r.stage(ctx, "gate", func(ctx context.Context) error {
		open, policies, err = r.gate(ctx, facts, report, log)
		return err
	}); err != nil {
		return err
	}

	var collated *collate.Result
	if err := r.stage(ctx, "collate", func(ctx context.Context) error {
		collated, err = r.deps.Collator.Collate(ctx, open)
		return err
	}); err != nil {
		return err
	}
	report.Groups = len(collated.Groups)
	report.Skipped = collated.Skipped
	report.FactsSkipped = collated.SkippedFacts()

	return r.stage(ctx, "deliver", func(ctx context.Context) error {
		for _, group := range collated.Groups {
			policy := policies[group.Type]

			recipients, err := r.deps.Resolver.Resolve(ctx, group, policy)
			if stderrors.Is(err, errors.ErrMissingEntity) {
				log.Warn("group skipped", map[string]interface{}{
					"type":    group.Type,
					"key":     group.Key,
					"factIds": group.FactIDs,
					"reason":  err.Error(),
				})
				metrics.FactsSkipped.WithLabelValues(string(group.Type), "missing_entity").Add(float64(len(group.FactIDs)))
				report.Skipped = append(report.Skipped, collate.Skipped{FactIDs: group.FactIDs, Type: group.Type, Reason: err.Error()})
				report.FactsSkipped += len(group.FactIDs)
				continue
			}
			if err != nil {
				return err
			}

			res, err := r.deps.Dispatcher.Dispatch(ctx, group, recipients)
			if err != nil {
				return err
			}
			report.addDelivery(group, res)
		}
		return nil
	})
}

// gate drops facts whose type has email disabled. Policies are created with
// defaults on first sight.
func (r *Runner) gate(ctx context.Context, facts []models.Fact, report *RunReport, log logger.Logger) ([]models.Fact, map[models.FactType]models.DeliveryPolicy, error) {
	policies := map[models.FactType]models.DeliveryPolicy{}
	open := make([]models.Fact, 0, len(facts))
	gated := map[models.FactType]int{}

	for _, f := range facts {
		policy, seen := policies[f.Type]
		if !seen {
			if !f.Type.Valid() {
				// unknown types fall through to collation, which skips them
				open = append(open, f)
				continue
			}
			p, err := r.deps.Policies.GetOrCreateDefault(ctx, f.Type)
			if err != nil {
				return nil, nil, err
			}
			policy = *p
			policies[f.Type] = policy
			report.DelayHints[f.Type] = policy.DelayMinutes
		}

		if !policy.SendEmail {
			gated[f.Type]++
			continue
		}
		open = append(open, f)
	}

	for t, n := range gated {
		report.FactsGated += n
		log.Info("facts held by policy", map[string]interface{}{"type": t, "facts": n})
	}
	return open, policies, nil
}

func (r *Runner) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := r.obs.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.obs.RecordStage(ctx, name, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
