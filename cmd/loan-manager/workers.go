package main

import (
	"fmt"
	"time"

	"loan-orchestrator/internal/admin"
	"loan-orchestrator/internal/common/camunda"
	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/pkg/activities"

	ad "loan-orchestrator/internal/workers/loan/admin-decision"
	cc "loan-orchestrator/internal/workers/loan/confirm-contract"
	gc "loan-orchestrator/internal/workers/loan/generate-contract"
	la "loan-orchestrator/internal/workers/loan/list-applications"
	sa "loan-orchestrator/internal/workers/loan/start-application"
	sb "loan-orchestrator/internal/workers/loan/submit-biometrics"
	sd "loan-orchestrator/internal/workers/loan/submit-documents"
)

// registrations builds one registration per enabled loan job type. A task
// type missing from the workers section is enabled with the catalogue
// timeout.
func registrations(cfg *config.Config, catalogue *activities.Catalogue, service *orchestrator.Service, gateway *admin.Gateway, store registry.Store, log logger.Logger) ([]camunda.Registration, error) {
	type build func(timeout time.Duration) (camunda.JobHandler, error)
	builders := []struct {
		taskType string
		build    build
	}{
		{sa.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return sa.NewHandler(&sa.Config{Timeout: t}, catalogue, service, log)
		}},
		{sd.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return sd.NewHandler(&sd.Config{Timeout: t}, catalogue, service, log)
		}},
		{sb.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return sb.NewHandler(&sb.Config{Timeout: t}, catalogue, service, log)
		}},
		{gc.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return gc.NewHandler(&gc.Config{Timeout: t}, catalogue, service, log)
		}},
		{cc.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return cc.NewHandler(&cc.Config{Timeout: t}, catalogue, service, log)
		}},
		{ad.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return ad.NewHandler(&ad.Config{Timeout: t}, catalogue, gateway, store, log)
		}},
		{la.TaskType, func(t time.Duration) (camunda.JobHandler, error) {
			return la.NewHandler(&la.Config{Timeout: t}, catalogue, service, log)
		}},
	}

	regs := make([]camunda.Registration, 0, len(builders))
	for _, b := range builders {
		if !config.IsWorkerEnabled(cfg, b.taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": b.taskType})
			continue
		}
		activity, ok := catalogue.Lookup(b.taskType)
		if !ok {
			return nil, fmt.Errorf("%s: not in the activity catalogue", b.taskType)
		}

		wcfg := config.GetWorkerConfig(cfg, b.taskType)
		timeout := config.GetDuration(wcfg.Timeout)
		if _, configured := cfg.Workers[b.taskType]; !configured {
			timeout = activity.TimeoutDuration(timeout)
		}
		maxActive := wcfg.MaxJobsActive
		if maxActive <= 0 {
			maxActive = cfg.Camunda.MaxJobsActive
		}

		handler, err := b.build(timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.taskType, err)
		}
		regs = append(regs, camunda.Registration{
			TaskType:      b.taskType,
			Handler:       handler,
			MaxJobsActive: maxActive,
			Timeout:       timeout,
		})
	}
	return regs, nil
}
