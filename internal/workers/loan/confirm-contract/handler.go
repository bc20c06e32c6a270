package confirmcontract

import (
	"context"
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

const TaskType = "loan.confirm-contract"

type Config struct {
	Timeout time.Duration
}

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
	app, err := h.service.ConfirmContract(ctx, models.SystemActor(), input.ApplicationID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("contract confirmed", map[string]interface{}{
		"applicationId": app.ID,
		"status":        string(app.Status),
	})
	return &Output{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		Signed:        app.Signed,
		HighRisk:      app.HighRisk(),
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
