package submitbiometrics

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-orchestrator/internal/common/camunda"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/evidence"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/pkg/activities"
)

const TaskType = "loan.submit-biometrics"

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

// execute completes the job on a mismatch so the process can route the
// borrower back to the capture step; the attempt cap surfaces as an error.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	idImage, err := evidence.DecodeImage(input.IDImage)
	if err != nil {
		return nil, err
	}
	selfie, err := evidence.DecodeImage(input.SelfieImage)
	if err != nil {
		return nil, err
	}

	out, err := h.service.SubmitBiometrics(ctx, models.SystemActor(), input.ApplicationID, idImage, selfie, input.Device)
	if err != nil && !(out != nil && errors.IsCode(err, errors.ErrCodeBiometricMismatch)) {
		return nil, err
	}

	output := &Output{
		ApplicationID: out.Application.ID,
		Status:        string(out.Application.Status),
		IsMatch:       out.Verification.IsMatch,
		Confidence:    out.Verification.Confidence,
		Reason:        out.Verification.Reason,
		Attempts:      out.Application.BiometricAttempts,
		ContractReady: out.Application.ContractText != "",
	}

	h.logger.Info("biometric check finished", map[string]interface{}{
		"applicationId": output.ApplicationID,
		"isMatch":       output.IsMatch,
		"attempts":      output.Attempts,
	})
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
