// Package admin applies reviewer decisions to applications waiting for a
// lender match.
package admin

import (
	"context"
	"strings"
	"time"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/locking"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/internal/statemachine"
)

type Gateway struct {
	store     registry.Store
	machine   *statemachine.Machine
	locker    locking.Locker
	observers []orchestrator.Observer
	logger    logger.Logger
}

func NewGateway(store registry.Store, machine *statemachine.Machine, locker locking.Locker, log logger.Logger, observers ...orchestrator.Observer) *Gateway {
	return &Gateway{
		store:     store,
		machine:   machine,
		locker:    locker,
		observers: observers,
		logger:    log.WithFields(map[string]interface{}{"component": "admin"}),
	}
}

// Approve moves a MATCHING_LENDER application to APPROVED.
func (g *Gateway) Approve(ctx context.Context, actor models.Actor, appID string) (*models.LoanApplication, error) {
	return g.decide(ctx, actor, appID, statemachine.EventApprove, "")
}

// Reject moves a MATCHING_LENDER application to REJECTED and records reason.
func (g *Gateway) Reject(ctx context.Context, actor models.Actor, appID, reason string) (*models.LoanApplication, error) {
	return g.decide(ctx, actor, appID, statemachine.EventReject, reason)
}

// RequestDocuments sends the borrower back to upload another document.
func (g *Gateway) RequestDocuments(ctx context.Context, actor models.Actor, appID, note string) (*models.LoanApplication, error) {
	return g.decide(ctx, actor, appID, statemachine.EventRequestDocuments, note)
}

func (g *Gateway) decide(ctx context.Context, actor models.Actor, appID string, event statemachine.Event, note string) (*models.LoanApplication, error) {
	start := time.Now()
	fields := map[string]interface{}{
		"applicationId": appID,
		"event":         string(event),
		"actor":         actor.UserID,
		"role":          string(actor.Role),
	}

	if !actor.IsAdmin() {
		g.logger.Warn("Non-admin attempted a review decision", fields)
		metrics.OperationErrors.WithLabelValues("admin_"+string(event), string(errors.ErrCodeUnauthorized)).Inc()
		return nil, errors.NewUnauthorizedError(string(event) + " requires an admin")
	}

	unlock, err := g.locker.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := g.store.UpdateStatus(ctx, appID, func(a *models.LoanApplication) error {
		if err := g.machine.Fire(a, event, actor); err != nil {
			return err
		}
		a.DecisionNote = strings.TrimSpace(note)
		return nil
	})
	if err != nil {
		fields["error"] = err
		g.logger.Warn("Review decision refused", fields)
		metrics.OperationErrors.WithLabelValues("admin_"+string(event), string(errors.Normalize(err).Code)).Inc()
		return nil, err
	}

	fields["status"] = string(updated.Status)
	fields["duration"] = time.Since(start).String()
	g.logger.Info("Review decision applied", fields)
	orchestrator.Notify(ctx, g.observers, updated, event)
	return updated, nil
}
