package generatecontract

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-orchestrator/internal/common/camunda"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/pkg/activities"
)

const TaskType = "loan.generate-contract"

type Config struct {
	Timeout time.Duration
}

// Handler redrafts the contract for an application left in
// CONTRACT_PENDING without stored text.
type Handler struct {
	config  *Config
	service *orchestrator.Service
	schema  *validation.Schema
	errors  *errors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, catalogue *activities.Catalogue, service *orchestrator.Service, log logger.Logger) (*Handler, error) {
	schema, err := catalogue.InputValidator(TaskType)
	if err != nil {
		return nil, err
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		service: service,
		schema:  schema,
		errors:  errors.NewErrorHandler(log),
		logger:  log,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := camunda.DecodeVariables(job.Variables, h.schema, &input); err != nil {
		camunda.FailJob(ctx, client, job, err, h.errors)
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		camunda.FailJob(ctx, client, job, err, h.errors)
		return
	}
	camunda.CompleteJob(ctx, client, job, output, h.logger)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	draft, err := h.service.GenerateContract(ctx, models.SystemActor(), input.ApplicationID)
	if err != nil {
		return nil, err
	}

	// A fallback draft is never stored, so the job fails retryable and the
	// engine runs it again instead of moving on to signing.
	if draft.Generation.Fallback {
		return nil, errors.NewProviderUnavailableError("contract-generation",
			fmt.Errorf("no contract drafted for %s", input.ApplicationID))
	}

	h.logger.Info("contract drafted", map[string]interface{}{
		"applicationId": draft.Application.ID,
	})
	return &Output{
		ApplicationID: draft.Application.ID,
		Status:        string(draft.Application.Status),
		ContractText:  draft.Application.ContractText,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
