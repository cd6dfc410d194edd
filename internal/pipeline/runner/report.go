package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/collate"
	"placement-mailer/internal/pipeline/dispatch"
)

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID        string                  `json:"runId"`
	Outcome      string                  `json:"outcome"`
	StartedAt    time.Time               `json:"startedAt"`
	FinishedAt   time.Time               `json:"finishedAt"`
	FactsLoaded  int                     `json:"factsLoaded"`
	FactsGated   int                     `json:"factsGated"`
	FactsSkipped int                     `json:"factsSkipped"`
	FactsMarked  int                     `json:"factsMarked"`
	Groups       int                     `json:"groups"`
	Recipients   int                     `json:"recipients"`
	Sent         int                     `json:"sent"`
	Failed       int                     `json:"failed"`
	DelayHints   map[models.FactType]int `json:"delayHints"` // minutes, per type seen this run
	Skipped      []collate.Skipped       `json:"skipped,omitempty"`
	Deliveries   []dispatch.Result       `json:"deliveries,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

const (
	OutcomeCompleted  = "completed"
	OutcomeEmpty      = "empty"
	OutcomeFailed     = "failed"
	OutcomeInProgress = "in_progress"
)

func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *RunReport) addDelivery(group models.EmailGroup, res *dispatch.Result) {
	r.Deliveries = append(r.Deliveries, *res)
	r.Recipients += res.Recipients
	r.Sent += res.Sent
	r.Failed += res.Failed
	if res.Handled {
		r.FactsMarked += len(group.FactIDs)
	}
}

// Fields flattens the counters for structured logging.
func (r *RunReport) Fields() map[string]interface{} {
	return map[string]interface{}{
		"runId":        r.RunID,
		"outcome":      r.Outcome,
		"durationMs":   r.Duration().Milliseconds(),
		"factsLoaded":  r.FactsLoaded,
		"factsGated":   r.FactsGated,
		"factsSkipped": r.FactsSkipped,
		"factsMarked":  r.FactsMarked,
		"groups":       r.Groups,
		"recipients":   r.Recipients,
		"sent":         r.Sent,
		"failed":       r.Failed,
		"delayHints":   r.DelayHints,
	}
}

// ReportPublisher ships run reports to an external consumer.
type ReportPublisher interface {
	Publish(ctx context.Context, report *RunReport) error
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSReportPublisher publishes each report as JSON to a topic.
type SNSReportPublisher struct {
	client   SNSService
	topicARN string
}

func NewSNSReportPublisher(client SNSService, topicARN string) *SNSReportPublisher {
	return &SNSReportPublisher{client: client, topicARN: topicARN}
}

func (p *SNSReportPublisher) Publish(ctx context.Context, report *RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(fmt.Sprintf("placement-mailer run %s", report.Outcome)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"outcome": {DataType: aws.String("String"), StringValue: aws.String(report.Outcome)},
		},
	})
	if err != nil {
		return errors.NewExternalServiceError("sns", err)
	}
	return nil
}
