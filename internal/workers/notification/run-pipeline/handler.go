// Package runpipeline lets a BPMN timer or an external scheduler trigger a
// notification pipeline run as a Zeebe job.
package runpipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/metrics"
	"placement-mailer/internal/pipeline/runner"
)

const TaskType = "run-notification-pipeline"

type PipelineRunner interface {
	Run(ctx context.Context) (*runner.RunReport, error)
}

type HandlerOptions struct {
	AppConfig *config.Config
	Runner    PipelineRunner
	Logger    logger.Logger
}

type Handler struct {
	runner       PipelineRunner
	timeout      time.Duration
	enabled      bool
	logger       logger.Logger
	errorHandler *errors.JobErrorHandler
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("run-pipeline worker requires a runner")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	h := &Handler{
		runner:       opts.Runner,
		timeout:      5 * time.Minute,
		enabled:      true,
		logger:       log,
		errorHandler: errors.NewJobErrorHandler(log),
	}
	if opts.AppConfig != nil {
		wcfg := config.GetWorkerConfig(opts.AppConfig, TaskType)
		h.enabled = wcfg.Enabled
		if wcfg.Timeout > 0 {
			h.timeout = config.GetDuration(wcfg.Timeout)
		}
	}
	return h, nil
}

func (h *Handler) TaskType() string { return TaskType }

func (h *Handler) IsEnabled() bool { return h.enabled }

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	output, err := h.Execute(ctx)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.AsStandard(err).Code)).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

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

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

// Execute runs the pipeline once. A run already in progress elsewhere is
// reported as an outcome, not a failure, so the process does not retry a
// run that is happening anyway.
func (h *Handler) Execute(ctx context.Context) (*Output, error) {
	report, err := h.runner.Run(ctx)
	if err != nil && !stderrors.Is(err, errors.ErrRunInProgress) {
		return nil, err
	}
	return toOutput(report), nil
}

func toOutput(r *runner.RunReport) *Output {
	out := &Output{DelayHints: map[string]int{}}
	if r == nil {
		return out
	}
	out.RunID = r.RunID
	out.RunOutcome = r.Outcome
	out.FactsLoaded = r.FactsLoaded
	out.FactsGated = r.FactsGated
	out.FactsSkipped = r.FactsSkipped
	out.FactsMarked = r.FactsMarked
	out.Groups = r.Groups
	out.Sent = r.Sent
	out.Failed = r.Failed
	for t, minutes := range r.DelayHints {
		out.DelayHints[string(t)] = minutes
	}
	return out
}
