// Package workertest builds an in-memory orchestrator for job handler tests.
package workertest

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/locking"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/internal/providers"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/internal/statemachine"
	"loan-orchestrator/pkg/activities"
)

// Image is a small base64 payload accepted as an upload.
var Image = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nworker-test"))

type Env struct {
	Service   *orchestrator.Service
	Store     *registry.MemoryStore
	Fake      *providers.Fake
	Locker    locking.Locker
	Machine   *statemachine.Machine
	Catalogue *activities.Catalogue
	Borrower  *models.User
	Admin     *models.User
}

func New(t *testing.T) *Env {
	t.Helper()
	ctx := context.Background()
	log := logger.NewTestLogger(t)
	store := registry.NewMemoryStore()
	countries := country.Default()

	borrower, err := store.InsertUser(ctx, &models.User{
		Mobile:     "0123456789",
		NationalID: "900101-14-5678",
		Name:       "Aisyah binti Ali",
		Country:    country.Malaysia,
		Role:       models.RoleBorrower,
		Verified:   true,
	})
	require.NoError(t, err)
	admin, err := store.InsertUser(ctx, &models.User{
		Mobile:  "0100000000",
		Name:    "Reviewer",
		Country: country.Malaysia,
		Role:    models.RoleAdmin,
	})
	require.NoError(t, err)

	catalogue, err := activities.Default()
	require.NoError(t, err)

	fake := providers.NewFake()
	adapter := providers.NewAdapter(fake, providers.Options{DefaultTimeout: time.Second, RetryBackoff: time.Millisecond}, log)
	locker := locking.NewKeyedMutex()

	return &Env{
		Service:   orchestrator.New(store, countries, adapter, locker, orchestrator.Options{BiometricMaxAttempts: 3}, log),
		Store:     store,
		Fake:      fake,
		Locker:    locker,
		Machine:   statemachine.New(countries),
		Catalogue: catalogue,
		Borrower:  borrower,
		Admin:     admin,
	}
}

// Advance drives a fresh application for the borrower up to status.
func (e *Env) Advance(t *testing.T, status models.Status) *models.LoanApplication {
	t.Helper()
	ctx := context.Background()
	actor := models.SystemActor()
	img, err := base64.StdEncoding.DecodeString(Image)
	require.NoError(t, err)

	app, err := e.Service.StartApplication(ctx, actor, e.Borrower.ID, 5000, 12)
	require.NoError(t, err)
	if status == models.StatusDocumentsPending {
		return app
	}
	app, err = e.Service.SubmitDocuments(ctx, actor, app.ID, img, models.DeviceContext{})
	require.NoError(t, err)
	if status == models.StatusBiometricsPending {
		return app
	}
	out, err := e.Service.SubmitBiometrics(ctx, actor, app.ID, img, img, models.DeviceContext{})
	require.NoError(t, err)
	app = out.Application
	if status == models.StatusContractPending {
		return app
	}
	app, err = e.Service.ConfirmContract(ctx, actor, app.ID)
	require.NoError(t, err)
	require.Equal(t, status, app.Status)
	return app
}
