package providers

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/models"
)

const (
	opMatchFace       = "match_face"
	opAnalyzeDocument = "analyze_document"
	opGenerateText    = "generate_text"
)

// Options tune the adapter's deadline and retry behaviour.
type Options struct {
	// DefaultTimeout bounds a call when the caller's context has no deadline.
	DefaultTimeout time.Duration
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
}

// Adapter is the fail-soft front of a Backend. Its methods never return errors.
type Adapter struct {
	backend Backend
	opts    Options
	logger  logger.Logger
}

func NewAdapter(backend Backend, opts Options, log logger.Logger) *Adapter {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Adapter{
		backend: backend,
		opts:    opts,
		logger:  log.WithFields(map[string]interface{}{"component": "provider-adapter"}),
	}
}

// MatchFace returns the provider verdict, or a non-matching fallback.
func (a *Adapter) MatchFace(ctx context.Context, req FaceMatchRequest) models.VerificationResult {
	var out *models.VerificationResult
	err := a.call(ctx, opMatchFace, func(ctx context.Context) error {
		r, err := a.backend.MatchFace(ctx, req)
		if err == nil && r == nil {
			err = errors.NewProviderRejectedError(opMatchFace, stderrors.New("empty result"))
		}
		out = r
		return err
	})
	if err != nil {
		return defaultVerification()
	}
	result := *out
	result.Normalize()
	result.Fallback = false
	return result
}

// AnalyzeDocument returns the document scan, or a maximum-risk fallback.
func (a *Adapter) AnalyzeDocument(ctx context.Context, req DocumentRequest) models.DocumentAnalysisResult {
	var out *models.DocumentAnalysisResult
	err := a.call(ctx, opAnalyzeDocument, func(ctx context.Context) error {
		r, err := a.backend.AnalyzeDocument(ctx, req)
		if err == nil && r == nil {
			err = errors.NewProviderRejectedError(opAnalyzeDocument, stderrors.New("empty result"))
		}
		out = r
		return err
	})
	if err != nil {
		return defaultDocument()
	}
	result := *out
	result.Normalize()
	result.Fallback = false
	return result
}

// GenerateText returns provider text, or the placeholder for req.Kind.
func (a *Adapter) GenerateText(ctx context.Context, req TextRequest) Generation {
	var text string
	err := a.call(ctx, opGenerateText, func(ctx context.Context) error {
		t, err := a.backend.GenerateText(ctx, req)
		if err == nil && strings.TrimSpace(t) == "" {
			err = errors.NewProviderRejectedError(opGenerateText, stderrors.New("empty text"))
		}
		text = t
		return err
	})
	if err != nil {
		return Generation{Text: placeholderFor(req.Kind), Fallback: true}
	}
	return Generation{Text: text}
}

// call runs fn with at most one retry for transient failures. The returned
// error has already been logged and counted.
func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.DefaultTimeout)
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = a.attempt(ctx, fn)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if attempt == 2 || !transient(ctx, err) {
			break
		}

		a.logger.Debug("Retrying provider call", map[string]interface{}{
			"operation": op,
			"error":     err,
		})
		if !sleep(ctx, a.opts.RetryBackoff) {
			break
		}
	}

	stdErr := classify(op, err)
	metrics.ProviderCalls.WithLabelValues(op, "fallback").Inc()
	a.logger.Warn("Provider call failed, using fallback", map[string]interface{}{
		"operation": op,
		"errorCode": string(stdErr.Code),
		"error":     stdErr,
	})
	return stdErr
}

func (a *Adapter) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.opts.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, a.opts.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// transient reports whether err is worth one more attempt: the caller is
// still waiting and the provider did not reject the request itself.
func transient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return !errors.IsCode(err, errors.ErrCodeProviderRejected)
}

func classify(op string, err error) *errors.StandardError {
	switch errors.CodeOf(err) {
	case errors.ErrCodeProviderUnavailable, errors.ErrCodeProviderRejected:
		return errors.Normalize(err)
	}
	return errors.NewProviderUnavailableError(op, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
