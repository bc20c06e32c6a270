package submitbiometrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/workers/loan/workertest"
)

func newHandler(t *testing.T) (*Handler, *workertest.Env) {
	t.Helper()
	env := workertest.New(t)
	h, err := NewHandler(&Config{Timeout: 5 * time.Second}, env.Catalogue, env.Service, logger.NewTestLogger(t))
	require.NoError(t, err)
	return h, env
}

func input(appID string) *Input {
	return &Input{ApplicationID: appID, IDImage: workertest.Image, SelfieImage: workertest.Image}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestExecute_MatchDraftsContract(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusBiometricsPending)

	out, err := h.Execute(context.Background(), input(app.ID))
	require.NoError(t, err)
	assert.True(t, out.IsMatch)
	assert.Equal(t, "CONTRACT_PENDING", out.Status)
	assert.True(t, out.ContractReady)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecute_MismatchCompletesWithVerdict(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusBiometricsPending)
	env.Fake.Verification = &models.VerificationResult{IsMatch: false, Confidence: 20, Reason: "different person"}

	out, err := h.Execute(context.Background(), input(app.ID))
	require.NoError(t, err)
	assert.False(t, out.IsMatch)
	assert.Equal(t, "BIOMETRICS_PENDING", out.Status)
	assert.Equal(t, "different person", out.Reason)
	assert.False(t, out.ContractReady)
}

// ==========================
// Error Handling Tests
// ==========================

func TestExecute_RetryCapIsAnError(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusBiometricsPending)
	env.Fake.Verification = &models.VerificationResult{IsMatch: false, Reason: "blurred"}

	for i := 0; i < 3; i++ {
		_, err := h.Execute(context.Background(), input(app.ID))
		require.NoError(t, err)
	}
	_, err := h.Execute(context.Background(), input(app.ID))
	assert.True(t, errors.IsCode(err, errors.ErrCodeBiometricRetryExhausted), "got %v", err)
}

func TestExecute_InvalidImages(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusBiometricsPending)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: app.ID, IDImage: workertest.Image, SelfieImage: "not base64!"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Zero(t, env.Fake.Calls("match_face"))
}
