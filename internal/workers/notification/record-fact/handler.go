// Package recordfact is the Zeebe job worker through which BPMN processes
// record notification facts.
package recordfact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/common/validation"
	"placement-mailer/internal/models"
	"placement-mailer/internal/pipeline/sink"
)

const TaskType = "record-notification-fact"

var schema = validation.MustCompile(inputSchema)

type Recorder interface {
	Record(ctx context.Context, in sink.RecordInput) (*models.Fact, error)
}

type HandlerOptions struct {
	AppConfig *config.Config
	Recorder  Recorder
	Logger    logger.Logger
}

type Handler struct {
	config       *Config
	recorder     Recorder
	logger       logger.Logger
	errorHandler *errors.JobErrorHandler
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Recorder == nil {
		return nil, fmt.Errorf("record-fact worker requires a recorder")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       createConfigFromAppConfig(opts.AppConfig),
		recorder:     opts.Recorder,
		logger:       log,
		errorHandler: errors.NewJobErrorHandler(log),
	}, nil
}

func (h *Handler) TaskType() string { return TaskType }

func (h *Handler) IsEnabled() bool { return h.config.Enabled }

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.AsStandard(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewValidationError("variables", fmt.Sprintf("failed to parse job variables: %v", err))
	}

	result := schema.Validate(variables)
	if !result.Valid {
		return nil, errors.NewValidationError(strings.Join(result.Fields(), ","),
			strings.Join(result.GetErrorMessages(), "; "))
	}

	// re-decode through JSON so the typed input matches the validated map
	raw, err := json.Marshal(variables)
	if err != nil {
		return nil, errors.NewValidationError("variables", err.Error())
	}
	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errors.NewValidationError("variables", err.Error())
	}
	return &input, nil
}

// Execute records the fact described by input.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	fact, err := h.recorder.Record(ctx, sink.RecordInput{
		Type:        models.FactType(input.Type),
		Subtype:     input.Subtype,
		ShortlistID: input.ShortlistID,
		CompanyID:   input.CompanyID,
		Domain:      input.Domain,
		Links:       input.Links,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		FactID:      fact.ID,
		FactType:    string(fact.Type),
		FactSubtype: fact.Subtype,
		RecordedAt:  fact.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("fact recorded", map[string]interface{}{
		"jobKey": job.GetKey(),
		"factId": output.FactID,
		"type":   output.FactType,
	})
}
