package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/common/validation"
)

// JobHandler is implemented by every workflow job handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type Registration struct {
	TaskType      string
	Handler       JobHandler
	MaxJobsActive int
	Timeout       time.Duration
}

// JobRecorder receives job counts and durations; *observability.Observability
// implements it.
type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, duration time.Duration)
}

// Workers keeps the open job workers so they can be closed on shutdown.
type Workers struct {
	open   []worker.JobWorker
	logger logger.Logger
}

// StartWorkers opens one job worker per registration. recorder may be nil.
func StartWorkers(client zbc.Client, regs []Registration, recorder JobRecorder, log logger.Logger) *Workers {
	w := &Workers{logger: log}
	for _, reg := range regs {
		if err := validation.ValidateTaskType(reg.TaskType); err != nil {
			log.Error("worker not started", map[string]interface{}{"taskType": reg.TaskType, "error": err})
			continue
		}
		maxActive := reg.MaxJobsActive
		if maxActive <= 0 {
			maxActive = 16
		}

		jobWorker := client.NewJobWorker().
			JobType(reg.TaskType).
			Handler(Instrument(reg.TaskType, reg.Handler.Handle, recorder)).
			MaxJobsActive(maxActive).
			Timeout(reg.Timeout).
			Open()
		w.open = append(w.open, jobWorker)

		log.Info("worker started", map[string]interface{}{
			"taskType":      reg.TaskType,
			"maxJobsActive": maxActive,
			"timeout":       reg.Timeout.String(),
		})
	}
	return w
}

// Stop closes every worker and waits for in-flight jobs.
func (w *Workers) Stop() {
	for _, jw := range w.open {
		jw.Close()
		jw.AwaitClose()
	}
	w.logger.Info("workers stopped", map[string]interface{}{"count": len(w.open)})
}

// Instrument records the job metrics around a handler.
func Instrument(taskType string, handle worker.JobHandler, recorder JobRecorder) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer func() {
			elapsed := time.Since(start)
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
			if recorder != nil {
				ctx := context.Background()
				recorder.RecordJobProcessed(ctx, taskType, "handled")
				recorder.RecordJobDuration(ctx, taskType, elapsed)
			}
		}()
		handle(client, job)
	}
}

// DecodeVariables checks the job variables against schema and decodes them into v.
func DecodeVariables(variables string, schema *validation.Schema, v interface{}) error {
	raw := []byte(variables)
	if schema != nil {
		result := schema.ValidateJSON(raw)
		if !result.Valid {
			return errors.NewInvalidInputError(result.Error())
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}
	return nil
}

// CompleteJob reports a successful job with output as its variables.
func CompleteJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}, log logger.Logger) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		log.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		log.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(job.Type).Inc()
	log.Info("job completed successfully", map[string]interface{}{"jobKey": job.Key})
}

// FailJob hands err to the error handler, which retries or throws a BPMN error.
func FailJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, handler *errors.ErrorHandler) {
	metrics.WorkerJobsFailed.WithLabelValues(job.Type, string(errors.CodeOf(err))).Inc()
	handler.HandleJobError(ctx, client, job, err)
}
