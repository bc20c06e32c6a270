package admindecision

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-orchestrator/internal/admin"
	"loan-orchestrator/internal/common/camunda"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/pkg/activities"
)

const TaskType = "loan.admin-decision"

const (
	DecisionApprove          = "approve"
	DecisionReject           = "reject"
	DecisionRequestDocuments = "request_documents"
)

// UserLookup resolves the reviewer named in the job.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Config struct {
	Timeout time.Duration
}

type Handler struct {
	config  *Config
	gateway *admin.Gateway
	users   UserLookup
	schema  *validation.Schema
	errors  *errors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, catalogue *activities.Catalogue, gateway *admin.Gateway, users UserLookup, log logger.Logger) (*Handler, error) {
	schema, err := catalogue.InputValidator(TaskType)
	if err != nil {
		return nil, err
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		gateway: gateway,
		users:   users,
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

// execute acts as the reviewer named in the job. The reviewer must hold the
// admin role in the registry; the job itself confers no privileges.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	reviewer, err := h.users.GetUser(ctx, input.ReviewerID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.NewUnauthorizedError(fmt.Sprintf("reviewer %s is unknown", input.ReviewerID))
		}
		return nil, err
	}
	actor := models.Actor{UserID: reviewer.ID, Role: reviewer.Role}

	var app *models.LoanApplication
	switch input.Decision {
	case DecisionApprove:
		app, err = h.gateway.Approve(ctx, actor, input.ApplicationID)
	case DecisionReject:
		app, err = h.gateway.Reject(ctx, actor, input.ApplicationID, input.Note)
	case DecisionRequestDocuments:
		app, err = h.gateway.RequestDocuments(ctx, actor, input.ApplicationID, input.Note)
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown decision %q", input.Decision))
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		DecisionNote:  app.DecisionNote,
		ReviewerID:    reviewer.ID,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
