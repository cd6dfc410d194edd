package runner

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/models"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSNSReportPublisher_Publish(t *testing.T) {
	var captured *sns.PublishInput
	client := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
		},
	}

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	report := &RunReport{
		RunID:       "run-1",
		Outcome:     OutcomeCompleted,
		StartedAt:   start,
		FinishedAt:  start.Add(3 * time.Second),
		FactsLoaded: 4,
		Sent:        3,
		DelayHints:  map[models.FactType]int{models.FactTypeShortlist: 0},
	}

	err := NewSNSReportPublisher(client, "arn:aws:sns:ap-south-1:123:runs").Publish(context.Background(), report)

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:ap-south-1:123:runs", aws.ToString(captured.TopicArn))
	assert.Equal(t, OutcomeCompleted, aws.ToString(captured.MessageAttributes["outcome"].StringValue))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.Equal(t, float64(3), decoded["sent"])
	assert.Equal(t, 3*time.Second, report.Duration())
}

func TestSNSReportPublisher_Failure(t *testing.T) {
	client := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, stderrors.New("AuthorizationError")
		},
	}

	err := NewSNSReportPublisher(client, "arn").Publish(context.Background(), &RunReport{Outcome: OutcomeFailed})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExternalService, errors.AsStandard(err).Code)
}
