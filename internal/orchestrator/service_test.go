package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/locking"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/providers"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/internal/statemachine"
)

// ==========================
// Test Doubles
// ==========================

type recordingObserver struct {
	mu     sync.Mutex
	events []statemachine.Event
}

func (r *recordingObserver) ApplicationChanged(_ context.Context, _ *models.LoanApplication, event statemachine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) Events() []statemachine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statemachine.Event(nil), r.events...)
}

type memoryEvidence struct {
	mu   sync.Mutex
	keys []string
	err  error
	// hang blocks Put until its context ends.
	hang bool
}

func (m *memoryEvidence) Put(ctx context.Context, appID string, kind models.EvidenceKind, _ []byte) (string, error) {
	if m.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	key := fmt.Sprintf("%s/%s/%d", appID, kind, len(m.keys))
	m.keys = append(m.keys, key)
	return key, nil
}

// textFailing fails text generation only.
type textFailing struct {
	*providers.Fake
}

func (textFailing) GenerateText(context.Context, providers.TextRequest) (string, error) {
	return "", errors.NewProviderUnavailableError("fake", stderrors.New("status 503"))
}

// hangingFace blocks face matching until the context ends.
type hangingFace struct {
	*providers.Fake
}

func (hangingFace) MatchFace(ctx context.Context, _ providers.FaceMatchRequest) (*models.VerificationResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	svc      *Service
	store    *registry.MemoryStore
	fake     *providers.Fake
	observer *recordingObserver
	evidence *memoryEvidence
	borrower models.Actor
}

func newFixture(t *testing.T, backend providers.Backend, fake *providers.Fake, opts Options) *fixture {
	t.Helper()
	store := registry.NewMemoryStore()
	user, err := store.InsertUser(context.Background(), &models.User{
		Mobile:     "0123456789",
		NationalID: "900101-14-5678",
		Name:       "Aisyah binti Ali",
		Country:    country.Malaysia,
		Role:       models.RoleBorrower,
	})
	require.NoError(t, err)

	adapter := providers.NewAdapter(backend, providers.Options{
		DefaultTimeout: time.Second,
		RetryBackoff:   time.Millisecond,
	}, logger.NewNoOpLogger())

	f := &fixture{
		store:    store,
		fake:     fake,
		observer: &recordingObserver{},
		evidence: &memoryEvidence{},
		borrower: models.Actor{UserID: user.ID, Role: models.RoleBorrower},
	}
	f.svc = New(store, country.Default(), adapter, locking.NewKeyedMutex(), opts, logger.NewTestLogger(t),
		WithObservers(f.observer),
		WithEvidenceStore(f.evidence),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }),
	)
	return f
}

func newDefaultFixture(t *testing.T) *fixture {
	fake := providers.NewFake()
	return newFixture(t, fake, fake, Options{BiometricMaxAttempts: 3})
}

func (f *fixture) start(t *testing.T) *models.LoanApplication {
	t.Helper()
	app, err := f.svc.StartApplication(context.Background(), f.borrower, f.borrower.UserID, 5000, 12)
	require.NoError(t, err)
	return app
}

func (f *fixture) toBiometrics(t *testing.T) *models.LoanApplication {
	t.Helper()
	app := f.start(t)
	app, err := f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("payslip"), models.DeviceContext{})
	require.NoError(t, err)
	return app
}

func (f *fixture) toMatchingLender(t *testing.T) *models.LoanApplication {
	t.Helper()
	app := f.toBiometrics(t)
	_, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	require.NoError(t, err)
	app, err = f.svc.ConfirmContract(context.Background(), f.borrower, app.ID)
	require.NoError(t, err)
	return app
}

// ==========================
// Core Functionality Tests
// ==========================

func TestService_HappyPath(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	app, err := f.svc.StartApplication(ctx, f.borrower, f.borrower.UserID, 5000, 12)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDocumentsPending, app.Status)
	assert.Equal(t, country.Malaysia, app.Country)
	assert.InDelta(t, 437.50, app.MonthlyPayment, 0.001)
	assert.NotEmpty(t, app.ID)

	app, err = f.svc.SubmitDocuments(ctx, f.borrower, app.ID, []byte("payslip"), models.DeviceContext{Platform: "Android"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBiometricsPending, app.Status)
	require.NotNil(t, app.Document)
	assert.Equal(t, "Payslip", app.Document.DocumentType)
	assert.False(t, app.HighRisk())

	out, err := f.svc.SubmitBiometrics(ctx, f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	require.NoError(t, err)
	assert.True(t, out.Verification.IsMatch)
	assert.Equal(t, models.StatusContractPending, out.Application.Status)
	assert.Equal(t, 1, out.Application.BiometricAttempts)
	require.NotNil(t, out.Contract)
	assert.False(t, out.Contract.Fallback)
	assert.Contains(t, out.Application.ContractText, "RM 437.50")
	assert.Contains(t, out.Application.ContractText, "Aisyah binti Ali")

	app, err = f.svc.ConfirmContract(ctx, f.borrower, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatchingLender, app.Status)
	assert.True(t, app.Signed)

	assert.Equal(t, []statemachine.Event{
		statemachine.EventStart,
		statemachine.EventDocumentsAnalyzed,
		statemachine.EventBiometricsVerified,
		statemachine.EventContractSigned,
	}, f.observer.Events())
	assert.Len(t, f.evidence.keys, 3)
	assert.Len(t, app.Evidence, 3)
}

func TestService_GenerateContractIsRepeatableAndKeepsStatus(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.toBiometrics(t)
	_, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	require.NoError(t, err)

	f.fake.Text = "REVISED AGREEMENT"
	draft, err := f.svc.GenerateContract(context.Background(), f.borrower, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusContractPending, draft.Application.Status)
	assert.Equal(t, "REVISED AGREEMENT", draft.Application.ContractText)
}

func TestService_ResubmittedDocumentsAfterReviewReturnToLender(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.toMatchingLender(t)

	_, err := f.store.UpdateStatus(context.Background(), app.ID, func(a *models.LoanApplication) error {
		a.Status = models.StatusNeedsDocuments
		return nil
	})
	require.NoError(t, err)

	f.fake.Document = &models.DocumentAnalysisResult{DocumentType: "Bank Statement", FraudRiskScore: 20}
	app, err = f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("statement"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatchingLender, app.Status)
	assert.Equal(t, "Bank Statement", app.Document.DocumentType)
}

func TestService_ListApplications(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()
	f.start(t)
	f.start(t)

	other, err := f.store.InsertUser(ctx, &models.User{Mobile: "0198765432", Country: country.Singapore, Role: models.RoleBorrower})
	require.NoError(t, err)
	otherActor := models.Actor{UserID: other.ID, Role: models.RoleBorrower}
	_, err = f.svc.StartApplication(ctx, otherActor, other.ID, 10000, 24)
	require.NoError(t, err)

	mine, err := f.svc.ListApplications(ctx, f.borrower, models.ApplicationFilter{UserID: other.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2, "borrowers cannot widen the filter to other users")

	all, err := f.svc.ListApplications(ctx, models.Actor{UserID: "admin", Role: models.RoleAdmin}, models.ApplicationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sg, err := f.svc.ListApplications(ctx, models.Actor{UserID: "admin", Role: models.RoleAdmin}, models.ApplicationFilter{Country: "sg"})
	require.NoError(t, err)
	assert.Len(t, sg, 1)

	_, err = f.svc.ListApplications(ctx, models.Actor{}, models.ApplicationFilter{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))
}

func TestService_GetApplicationVisibility(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.start(t)

	got, err := f.svc.GetApplication(context.Background(), f.borrower, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)

	_, err = f.svc.GetApplication(context.Background(), models.Actor{UserID: "admin", Role: models.RoleAdmin}, app.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetApplication(context.Background(), models.Actor{UserID: "someone", Role: models.RoleBorrower}, app.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	_, err = f.svc.GetApplication(context.Background(), f.borrower, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

// ==========================
// Validation Tests
// ==========================

func TestService_StartApplicationValidation(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  models.Actor
		userID string
		amount float64
		months int
		code   errors.ErrorCode
	}{
		{"amount below market minimum", f.borrower, f.borrower.UserID, 500, 12, errors.ErrCodeInvalidLoanParameters},
		{"amount above market maximum", f.borrower, f.borrower.UserID, 100001, 12, errors.ErrCodeInvalidLoanParameters},
		{"tenure not a multiple of six", f.borrower, f.borrower.UserID, 5000, 7, errors.ErrCodeInvalidLoanParameters},
		{"tenure too long", f.borrower, f.borrower.UserID, 5000, 66, errors.ErrCodeInvalidLoanParameters},
		{"someone else", models.Actor{UserID: "intruder", Role: models.RoleBorrower}, f.borrower.UserID, 5000, 12, errors.ErrCodeUnauthorized},
		{"unknown user", models.SystemActor(), "ghost", 5000, 12, errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StartApplication(ctx, tt.actor, tt.userID, tt.amount, tt.months)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}

	apps, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, apps, "rejected applications are never stored")
}

func TestService_SubmitDocumentsGuards(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()
	app := f.start(t)

	_, err := f.svc.SubmitDocuments(ctx, f.borrower, app.ID, nil, models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = f.svc.SubmitDocuments(ctx, models.Actor{UserID: "intruder", Role: models.RoleBorrower}, app.ID, []byte("x"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	_, err = f.svc.SubmitDocuments(ctx, f.borrower, "missing", []byte("x"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = f.svc.SubmitDocuments(ctx, f.borrower, app.ID, []byte("x"), models.DeviceContext{})
	require.NoError(t, err)

	_, err = f.svc.SubmitDocuments(ctx, f.borrower, app.ID, []byte("x"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition))
	assert.Equal(t, 1, f.fake.Calls("analyze_document"), "no provider call once the state is wrong")
}

func TestService_OutOfOrderOperations(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()
	app := f.start(t)

	_, err := f.svc.SubmitBiometrics(ctx, f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition))

	_, err = f.svc.GenerateContract(ctx, f.borrower, app.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition))

	_, err = f.svc.ConfirmContract(ctx, f.borrower, app.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStateTransition))

	_, err = f.svc.SubmitBiometrics(ctx, f.borrower, app.ID, nil, []byte("selfie"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	stored, err := f.store.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDocumentsPending, stored.Status)
	assert.Equal(t, app.Version, stored.Version)
}

// ==========================
// Biometric Tests
// ==========================

func TestService_BiometricMismatchKeepsState(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.toBiometrics(t)
	f.fake.Verification = &models.VerificationResult{IsMatch: false, Confidence: 21, Reason: "different person"}

	out, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBiometricMismatch))
	require.NotNil(t, out)
	assert.False(t, out.Verification.IsMatch)
	assert.Equal(t, "different person", out.Verification.Reason)
	assert.Equal(t, models.StatusBiometricsPending, out.Application.Status)
	assert.Equal(t, 1, out.Application.BiometricAttempts)
	require.NotNil(t, out.Application.Verification)

	f.fake.Verification = nil
	out, err = f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie2"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusContractPending, out.Application.Status)
	assert.Equal(t, 2, out.Application.BiometricAttempts)
}

func TestService_BiometricAttemptsCapped(t *testing.T) {
	fake := providers.NewFake()
	fake.Verification = &models.VerificationResult{IsMatch: false, Reason: "blurred"}
	f := newFixture(t, fake, fake, Options{BiometricMaxAttempts: 2})
	app := f.toBiometrics(t)

	for i := 0; i < 2; i++ {
		_, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("s"), models.DeviceContext{})
		assert.True(t, errors.IsCode(err, errors.ErrCodeBiometricMismatch))
	}

	_, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("s"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeBiometricRetryExhausted))
	assert.Equal(t, 2, fake.Calls("match_face"))
}

// ==========================
// Provider Failure Tests
// ==========================

func TestService_DocumentProviderFailureStoresFallback(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.start(t)
	f.fake.Err = errors.NewProviderRejectedError("fake", stderrors.New("status 400"))

	app, err := f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("doc"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBiometricsPending, app.Status)
	require.NotNil(t, app.Document)
	assert.True(t, app.Document.Fallback)
	assert.Equal(t, 100.0, app.Document.FraudRiskScore)
	assert.True(t, app.HighRisk())
}

func TestService_FaceMatchTimeoutIsMismatch(t *testing.T) {
	fake := providers.NewFake()
	f := newFixture(t, hangingFace{fake}, fake, Options{ProviderTimeout: 30 * time.Millisecond})
	app := f.toBiometrics(t)

	start := time.Now()
	out, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, errors.IsCode(err, errors.ErrCodeBiometricMismatch))
	require.NotNil(t, out)
	assert.True(t, out.Verification.Fallback)
	assert.Equal(t, providers.FaceMatchFailureReason, out.Verification.Reason)
	assert.Equal(t, models.StatusBiometricsPending, out.Application.Status)
}

func TestService_ContractFallbackIsNotStored(t *testing.T) {
	fake := providers.NewFake()
	f := newFixture(t, textFailing{fake}, fake, Options{})
	app := f.toBiometrics(t)

	out, err := f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("selfie"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusContractPending, out.Application.Status)
	require.NotNil(t, out.Contract)
	assert.True(t, out.Contract.Fallback)
	assert.Equal(t, providers.ContractPlaceholder, out.Contract.Text)
	assert.Empty(t, out.Application.ContractText)

	_, err = f.svc.ConfirmContract(context.Background(), f.borrower, app.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeContractNotSigned))

	stored, err := f.store.Get(context.Background(), app.ID)
	require.NoError(t, err)
	assert.False(t, stored.Signed)
	assert.Equal(t, models.StatusContractPending, stored.Status)
}

func TestService_EvidenceFailureDoesNotBlock(t *testing.T) {
	f := newDefaultFixture(t)
	f.evidence.err = errors.NewStorageFailedError("put", stderrors.New("bucket gone"))
	app := f.start(t)

	app, err := f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("doc"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBiometricsPending, app.Status)
	assert.Empty(t, app.Evidence)
}

func TestService_SlowEvidenceUploadIsBounded(t *testing.T) {
	fake := providers.NewFake()
	f := newFixture(t, fake, fake, Options{EvidenceTimeout: 20 * time.Millisecond})
	f.evidence.hang = true
	app := f.start(t)

	started := time.Now()
	app, err := f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("doc"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, models.StatusBiometricsPending, app.Status)
	assert.Empty(t, app.Evidence)
}

// ==========================
// Concurrency Tests
// ==========================

func TestService_ConcurrentDocumentSubmissions(t *testing.T) {
	f := newDefaultFixture(t)
	app := f.start(t)

	var (
		wg        sync.WaitGroup
		successes int32
		conflicts int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitDocuments(context.Background(), f.borrower, app.ID, []byte("doc"), models.DeviceContext{})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.IsCode(err, errors.ErrCodeInvalidStateTransition):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(9), conflicts)
	assert.Equal(t, 1, f.fake.Calls("analyze_document"))

	stored, err := f.store.Get(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBiometricsPending, stored.Status)
	assert.Equal(t, app.Version+1, stored.Version)
}

func TestService_IndependentApplicationsDoNotWait(t *testing.T) {
	fake := providers.NewFake()
	f := newFixture(t, hangingFace{fake}, fake, Options{ProviderTimeout: 200 * time.Millisecond})
	slow := f.toBiometrics(t)
	other := f.start(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.SubmitBiometrics(context.Background(), f.borrower, slow.ID, []byte("id"), []byte("s"), models.DeviceContext{})
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	_, err := f.svc.SubmitDocuments(context.Background(), f.borrower, other.ID, []byte("doc"), models.DeviceContext{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	<-done
}

func TestService_LockWaitHonoursContext(t *testing.T) {
	fake := providers.NewFake()
	f := newFixture(t, hangingFace{fake}, fake, Options{ProviderTimeout: 300 * time.Millisecond})
	app := f.toBiometrics(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.SubmitBiometrics(context.Background(), f.borrower, app.ID, []byte("id"), []byte("s"), models.DeviceContext{})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.svc.GetApplication(ctx, f.borrower, app.ID)
	assert.NoError(t, err, "reads never take the lock")

	_, err = f.svc.SubmitBiometrics(ctx, f.borrower, app.ID, []byte("id"), []byte("s"), models.DeviceContext{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConcurrentModification), "got %v", err)
	<-done
}
