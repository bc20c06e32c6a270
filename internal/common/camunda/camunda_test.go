package camunda

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

func testClient() *Client {
	return &Client{config: &ClientConfig{
		RequestTimeout: time.Second,
		RetryConfig:    &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}}
}

// ==========================
// Retry Tests
// ==========================

func TestExecuteWithRetry_RetriesTransientErrors(t *testing.T) {
	c := testClient()
	calls := 0
	result, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, stderrors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return "ok", nil
	}, "deploy")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_StopsOnPermanentErrors(t *testing.T) {
	c := testClient()
	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("process definition not found")
	}, "create instance")

	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestExecuteWithRetry_GivesUpAsProviderUnavailable(t *testing.T) {
	c := testClient()
	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("context deadline exceeded")
	}, "publish")

	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderUnavailable))
}

func TestExecuteWithRetry_HonoursCancellation(t *testing.T) {
	c := testClient()
	c.config.RetryConfig.BaseDelay = time.Hour
	c.config.RetryConfig.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ExecuteWithRetry(ctx, func(context.Context) (interface{}, error) {
		return nil, stderrors.New("unavailable")
	}, "publish")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		code errors.ErrorCode
	}{
		{"resource not found", errors.ErrCodeNotFound},
		{"message already exists", errors.ErrCodeDuplicateID},
		{"permission denied", errors.ErrCodeAuthenticationFailed},
		{"broken pipe", errors.ErrCodeProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.code, errors.CodeOf(mapZeebeError(stderrors.New(tt.msg), "op", 0)))
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.CamundaConfig{BrokerAddress: "zeebe:26500", UsePlaintext: true, RequestTimeout: 1500})
	assert.Equal(t, "zeebe:26500", cfg.GatewayAddress)
	assert.True(t, cfg.UsePlaintextConnection)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)

	assert.Equal(t, 30*time.Second, ConfigFrom(config.CamundaConfig{}).RequestTimeout)
}

// ==========================
// Job Helper Tests
// ==========================

type startInput struct {
	UserID string  `json:"userId"`
	Amount float64 `json:"amount"`
}

func TestDecodeVariables(t *testing.T) {
	schema := validation.MustCompile(`{"type":"object","required":["userId"],"properties":{"userId":{"type":"string"},"amount":{"type":"number"}}}`)

	var in startInput
	require.NoError(t, DecodeVariables(`{"userId":"u-1","amount":5000}`, schema, &in))
	assert.Equal(t, startInput{UserID: "u-1", Amount: 5000}, in)

	err := DecodeVariables(`{"amount":5000}`, schema, &in)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "userId")

	err = DecodeVariables(`{"userId":`, nil, &in)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

type fakeRecorder struct {
	processed []string
	durations int
}

func (r *fakeRecorder) RecordJobProcessed(_ context.Context, taskType, status string) {
	r.processed = append(r.processed, taskType+":"+status)
}

func (r *fakeRecorder) RecordJobDuration(context.Context, string, time.Duration) {
	r.durations++
}

func TestInstrument_CallsHandler(t *testing.T) {
	called := false
	rec := &fakeRecorder{}
	h := Instrument("loan.test-job", func(_ worker.JobClient, job entities.Job) {
		called = true
		assert.Equal(t, int64(42), job.Key)
	}, rec)
	h(nil, entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 42, Type: "loan.test-job"}})
	assert.True(t, called)
	assert.Equal(t, []string{"loan.test-job:handled"}, rec.processed)
	assert.Equal(t, 1, rec.durations)
}

func TestInstrument_NilRecorder(t *testing.T) {
	h := Instrument("loan.test-job", func(worker.JobClient, entities.Job) {}, nil)
	assert.NotPanics(t, func() {
		h(nil, entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 7, Type: "loan.test-job"}})
	})
}

// ==========================
// Transition Publisher Tests
// ==========================

type capturedMessage struct {
	name, key string
	vars      interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []capturedMessage
	err      error
}

func (f *fakePublisher) PublishMessage(_ context.Context, name, key string, vars interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, capturedMessage{name, key, vars})
	return f.err
}

func TestTransitionPublisher(t *testing.T) {
	fp := &fakePublisher{}
	p := NewTransitionPublisher(fp, logger.NewTestLogger(t))

	app := models.NewLoanApplication("user-1", country.Malaysia, 5000, 12, time.Now())
	app.ID = "app-1"
	app.Status = models.StatusMatchingLender
	p.ApplicationChanged(context.Background(), app, statemachine.EventContractSigned)

	require.Len(t, fp.messages, 1)
	assert.Equal(t, "loan.contract_signed", fp.messages[0].name)
	assert.Equal(t, "app-1", fp.messages[0].key)
	msg := fp.messages[0].vars.(transitionMessage)
	assert.Equal(t, "MATCHING_LENDER", msg.Status)
	assert.Equal(t, "MY", msg.Country)
}

func TestTransitionPublisher_FailureIsLogged(t *testing.T) {
	fp := &fakePublisher{err: stderrors.New("unavailable")}
	p := NewTransitionPublisher(fp, logger.NewTestLogger(t))

	app := models.NewLoanApplication("user-1", country.Malaysia, 5000, 12, time.Now())
	assert.NotPanics(t, func() {
		p.ApplicationChanged(context.Background(), app, statemachine.EventApprove)
	})
	assert.Len(t, fp.messages, 1)
}
