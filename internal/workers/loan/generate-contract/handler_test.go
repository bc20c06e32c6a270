package generatecontract

import (
	"context"
	"fmt"
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

// ==========================
// Recovery after a fallback draft
// ==========================

func TestExecute_RecoversFromFallbackDraft(t *testing.T) {
	h, env := newHandler(t)
	ctx := context.Background()

	env.Fake.TextErr = fmt.Errorf("upstream 503")
	app := env.Advance(t, models.StatusContractPending)
	require.Empty(t, app.ContractText)

	_, err := env.Service.ConfirmContract(ctx, models.SystemActor(), app.ID)
	require.True(t, errors.IsCode(err, errors.ErrCodeContractNotSigned), "got %v", err)

	_, err = h.Execute(ctx, &Input{ApplicationID: app.ID})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderUnavailable), "got %v", err)
	assert.True(t, errors.Normalize(err).Retryable)

	env.Fake.TextErr = nil
	out, err := h.Execute(ctx, &Input{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Equal(t, "CONTRACT_PENDING", out.Status)
	assert.Contains(t, out.ContractText, "FINANCIAL FACILITATION AGREEMENT")

	signed, err := env.Service.ConfirmContract(ctx, models.SystemActor(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatchingLender, signed.Status)
}

// ==========================
// Guards
// ==========================

func TestExecute_WrongState(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusBiometricsPending)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: app.ID})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition), "got %v", err)
}

func TestExecute_UnknownApplication(t *testing.T) {
	h, _ := newHandler(t)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: "missing"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)
}
