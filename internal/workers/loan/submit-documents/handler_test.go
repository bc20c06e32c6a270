package submitdocuments

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

// ==========================
// Core Functionality Tests
// ==========================

func TestExecute_AnalysesDocument(t *testing.T) {
	h, env := newHandler(t)
	app := env.Advance(t, models.StatusDocumentsPending)

	out, err := h.Execute(context.Background(), &Input{
		ApplicationID: app.ID,
		DocumentImage: "data:image/png;base64," + workertest.Image,
		Device:        models.DeviceContext{Platform: "ios"},
	})
	require.NoError(t, err)
	assert.Equal(t, "BIOMETRICS_PENDING", out.Status)
	assert.Equal(t, "Payslip", out.DocumentType)
	assert.False(t, out.HighRisk)
	assert.False(t, out.ProviderFallback)
	assert.Equal(t, 1, env.Fake.Calls("analyze_document"))
}

func TestExecute_FlagsHighRisk(t *testing.T) {
	h, env := newHandler(t)
	env.Fake.Document = &models.DocumentAnalysisResult{IsAuthentic: false, DocumentType: "Payslip", FraudRiskScore: 85}
	app := env.Advance(t, models.StatusDocumentsPending)

	out, err := h.Execute(context.Background(), &Input{ApplicationID: app.ID, DocumentImage: workertest.Image})
	require.NoError(t, err)
	assert.True(t, out.HighRisk)
	assert.InDelta(t, 85, out.FraudRiskScore, 0.001)
}

// ==========================
// Error Handling Tests
// ==========================

func TestExecute_Errors(t *testing.T) {
	h, env := newHandler(t)
	pending := env.Advance(t, models.StatusBiometricsPending)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: "missing", DocumentImage: workertest.Image})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = h.Execute(context.Background(), &Input{ApplicationID: pending.ID, DocumentImage: "%%%"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = h.Execute(context.Background(), &Input{ApplicationID: pending.ID, DocumentImage: workertest.Image})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition))
}
