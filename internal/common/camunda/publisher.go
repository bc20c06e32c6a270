package camunda

import (
	"context"

	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

// MessagePublisher is satisfied by *Client.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables interface{}) error
}

// TransitionPublisher forwards application transitions to the workflow engine
// as messages named "loan.<event>" correlated by application ID.
type TransitionPublisher struct {
	publisher MessagePublisher
	logger    logger.Logger
}

func NewTransitionPublisher(p MessagePublisher, log logger.Logger) *TransitionPublisher {
	return &TransitionPublisher{
		publisher: p,
		logger:    log.WithFields(map[string]interface{}{"component": "transition-publisher"}),
	}
}

type transitionMessage struct {
	ApplicationID string  `json:"applicationId"`
	UserID        string  `json:"userId"`
	Status        string  `json:"status"`
	Country       string  `json:"country"`
	Amount        float64 `json:"amount"`
	HighRisk      bool    `json:"highRisk"`
}

func MessageName(event statemachine.Event) string {
	return "loan." + string(event)
}

func (p *TransitionPublisher) ApplicationChanged(ctx context.Context, app *models.LoanApplication, event statemachine.Event) {
	msg := transitionMessage{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		Status:        string(app.Status),
		Country:       string(app.Country),
		Amount:        app.Amount,
		HighRisk:      app.HighRisk(),
	}
	if err := p.publisher.PublishMessage(ctx, MessageName(event), app.ID, msg); err != nil {
		p.logger.Warn("Failed to publish transition", map[string]interface{}{
			"applicationId": app.ID,
			"event":         string(event),
			"error":         err,
		})
	}
}
