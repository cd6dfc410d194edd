package recordfact

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/sink"
)

// ==========================
// Mocks
// ==========================

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, in sink.RecordInput) (*models.Fact, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fact), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "shortlist-published",
		ElementId:          "Activity_RecordFact",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, recorder Recorder) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{Recorder: recorder, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)
	return h
}

// ==========================
// Tests
// ==========================

func TestHandler_NewHandler(t *testing.T) {
	_, err := NewHandler(HandlerOptions{Logger: logger.NewNoOpLogger()})
	assert.Error(t, err)

	cfg := &config.Config{Workers: map[string]config.WorkerConfig{
		TaskType: {Enabled: true, MaxJobsActive: 3, Timeout: 2000},
	}}
	h, err := NewHandler(HandlerOptions{AppConfig: cfg, Recorder: new(MockRecorder), Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)
	assert.True(t, h.IsEnabled())
	assert.Equal(t, TaskType, h.TaskType())
	assert.Equal(t, 3, h.config.MaxJobsActive)
	assert.Equal(t, 2*time.Second, h.config.Timeout)
}

func TestHandler_ParseInput(t *testing.T) {
	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
		check     func(t *testing.T, in *Input)
	}{
		{
			name: "shortlist fact",
			variables: map[string]interface{}{
				"type":        "SHORTLIST",
				"subtype":     "SL",
				"shortlistId": "s-1",
				"links": []interface{}{
					map[string]interface{}{"link": "https://x/list", "link_name": "shortlist_link"},
				},
			},
			check: func(t *testing.T, in *Input) {
				assert.Equal(t, "SHORTLIST", in.Type)
				require.NotNil(t, in.ShortlistID)
				assert.Equal(t, "s-1", *in.ShortlistID)
				assert.Nil(t, in.CompanyID)
				require.Len(t, in.Links, 1)
				assert.Equal(t, "shortlist_link", in.Links[0].LinkName)
			},
		},
		{
			name:      "missing subtype",
			variables: map[string]interface{}{"type": "PREP", "domain": "FINANCE"},
			wantErr:   true,
		},
		{
			name:      "wrong type for reference",
			variables: map[string]interface{}{"type": "COMPANY", "subtype": "NEW", "companyId": 42},
			wantErr:   true,
		},
		{
			name: "link without name",
			variables: map[string]interface{}{
				"type": "PREP", "subtype": "UPDATED", "domain": "FINANCE",
				"links": []interface{}{map[string]interface{}{"link": "https://x"}},
			},
			wantErr: true,
		},
	}

	h := newTestHandler(t, new(MockRecorder))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := h.parseInput(createMockJob(1, tt.variables))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stderrors.Is(err, errors.ErrValidation))
				return
			}
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestHandler_Execute(t *testing.T) {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(in sink.RecordInput) bool {
		return in.Type == models.FactTypePrep && in.Subtype == "UPDATED" && *in.Domain == "FINANCE"
	})).Return(&models.Fact{ID: 9, Type: models.FactTypePrep, Subtype: "UPDATED", CreatedAt: created}, nil)

	domain := "FINANCE"
	out, err := newTestHandler(t, recorder).Execute(context.Background(), &Input{
		Type: "PREP", Subtype: "UPDATED", Domain: &domain,
	})

	require.NoError(t, err)
	assert.Equal(t, &Output{
		FactID:      9,
		FactType:    "PREP",
		FactSubtype: "UPDATED",
		RecordedAt:  "2026-03-02T10:00:00Z",
	}, out)
	recorder.AssertExpectations(t)
}

func TestHandler_Execute_RejectedFact(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.Anything).Return(nil, errors.NewValidationError("refs", "no reference"))

	_, err := newTestHandler(t, recorder).Execute(context.Background(), &Input{Type: "COMPANY", Subtype: "NEW"})

	require.Error(t, err)
	bpmn := errors.ConvertToBPMNError(errors.AsStandard(err))
	assert.Equal(t, "VALIDATION_FAILED", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
}
