// Package orchestrator drives a loan application through document analysis,
// biometric verification and contract signing.
//
// Every mutating operation on one application holds that application's lock
// from the first read until the write, so provider calls for the same id are
// never interleaved. Different ids never wait on each other.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/locking"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/providers"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/internal/statemachine"
)

const tracerName = "loan-orchestrator"

// Verifier is the fail-soft provider surface; *providers.Adapter implements it.
type Verifier interface {
	MatchFace(ctx context.Context, req providers.FaceMatchRequest) models.VerificationResult
	AnalyzeDocument(ctx context.Context, req providers.DocumentRequest) models.DocumentAnalysisResult
	GenerateText(ctx context.Context, req providers.TextRequest) providers.Generation
}

// EvidenceStore keeps uploaded images and returns a retrievable key.
type EvidenceStore interface {
	Put(ctx context.Context, appID string, kind models.EvidenceKind, data []byte) (string, error)
}

// Observer is told about every stored change. Observers must not block for
// long and their failures never affect the operation.
type Observer interface {
	ApplicationChanged(ctx context.Context, app *models.LoanApplication, event statemachine.Event)
}

type Options struct {
	// ProviderTimeout bounds one provider call including its retry. Zero
	// leaves the adapter default in charge.
	ProviderTimeout time.Duration
	// BiometricMaxAttempts caps face match attempts. Zero means unlimited.
	BiometricMaxAttempts int
	// EvidenceTimeout bounds one evidence upload, which runs under the
	// application lock. Zero means defaultEvidenceTimeout.
	EvidenceTimeout time.Duration
}

const defaultEvidenceTimeout = 5 * time.Second

type Option func(*Service)

func WithEvidenceStore(e EvidenceStore) Option {
	return func(s *Service) { s.evidence = e }
}

func WithObservers(o ...Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o...) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store     registry.Store
	machine   *statemachine.Machine
	countries *country.Table
	verifier  Verifier
	locker    locking.Locker
	evidence  EvidenceStore
	observers []Observer
	opts      Options
	logger    logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func New(
	store registry.Store,
	countries *country.Table,
	verifier Verifier,
	locker locking.Locker,
	opts Options,
	log logger.Logger,
	options ...Option,
) *Service {
	s := &Service{
		store:     store,
		machine:   statemachine.New(countries),
		countries: countries,
		verifier:  verifier,
		locker:    locker,
		opts:      opts,
		logger:    log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// BiometricOutcome is the result of SubmitBiometrics. Verification is set
// even when the call fails with BIOMETRIC_MISMATCH.
type BiometricOutcome struct {
	Application  *models.LoanApplication   `json:"application"`
	Verification models.VerificationResult `json:"verification"`
	Contract     *providers.Generation     `json:"contract,omitempty"`
}

// ContractDraft is the result of GenerateContract.
type ContractDraft struct {
	Application *models.LoanApplication `json:"application"`
	Generation  providers.Generation    `json:"generation"`
}

// StartApplication creates a DRAFT for userID, validates it against the
// user's market and stores it in DOCUMENTS_PENDING.
func (s *Service) StartApplication(ctx context.Context, actor models.Actor, userID string, amount float64, months int) (app *models.LoanApplication, err error) {
	ctx, end := s.span(ctx, "StartApplication", actor, "")
	defer func() { end(err) }()

	if actor.Role != models.RoleSystem && actor.UserID != userID {
		return nil, errors.NewUnauthorizedError("applications can only be started for yourself")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	app = models.NewLoanApplication(userID, user.Country, amount, months, s.now())
	if err := s.machine.Fire(app, statemachine.EventStart, actor); err != nil {
		return nil, err
	}
	stored, err := s.store.Insert(ctx, app)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Application started", map[string]interface{}{
		"applicationId":  stored.ID,
		"userId":         userID,
		"country":        string(stored.Country),
		"amount":         amount,
		"months":         months,
		"monthlyPayment": stored.MonthlyPayment,
	})
	s.changed(ctx, stored, statemachine.EventStart)
	return stored, nil
}

// SubmitDocuments analyzes a financial document. The analysis is stored even
// if it is a fallback; a repeat call while still waiting for documents
// replaces the earlier result.
func (s *Service) SubmitDocuments(ctx context.Context, actor models.Actor, appID string, image []byte, device models.DeviceContext) (app *models.LoanApplication, err error) {
	ctx, end := s.span(ctx, "SubmitDocuments", actor, appID)
	defer func() { end(err) }()

	if len(image) == 0 {
		return nil, errors.NewInvalidInputError("document image is required")
	}

	unlock, err := s.locker.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, c, err := s.load(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusDocumentsPending && current.Status != models.StatusNeedsDocuments {
		return nil, errors.NewInvalidStateTransitionError(string(current.Status), string(statemachine.EventDocumentsAnalyzed))
	}

	key := s.storeEvidence(ctx, appID, models.EvidenceDocument, image)

	pctx, cancel := s.providerContext(ctx)
	result := s.verifier.AnalyzeDocument(pctx, providers.DocumentRequest{Image: image, Country: c, Device: device})
	cancel()

	var fireErr error
	updated, err := s.store.UpdateStatus(ctx, appID, func(a *models.LoanApplication) error {
		if a.Status != current.Status {
			return errors.NewConcurrentModificationError(appID)
		}
		doc := result
		a.Document = &doc
		if key != "" {
			a.AddEvidence(models.EvidenceDocument, key, s.now())
		}
		fireErr = s.machine.Fire(a, statemachine.EventDocumentsAnalyzed, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Document analyzed", map[string]interface{}{
		"applicationId":  appID,
		"documentType":   result.DocumentType,
		"fraudRiskScore": result.FraudRiskScore,
		"highRisk":       updated.HighRisk(),
		"fallback":       result.Fallback,
		"status":         string(updated.Status),
	})
	if fireErr != nil {
		return updated, fireErr
	}
	s.changed(ctx, updated, statemachine.EventDocumentsAnalyzed)
	return updated, nil
}

// SubmitBiometrics matches the ID photo against the selfie. A mismatch keeps
// the application in BIOMETRICS_PENDING and returns the verdict together
// with BIOMETRIC_MISMATCH. A match moves on and drafts the contract.
func (s *Service) SubmitBiometrics(ctx context.Context, actor models.Actor, appID string, idImage, selfie []byte, device models.DeviceContext) (out *BiometricOutcome, err error) {
	ctx, end := s.span(ctx, "SubmitBiometrics", actor, appID)
	defer func() { end(err) }()

	if len(idImage) == 0 || len(selfie) == 0 {
		return nil, errors.NewInvalidInputError("both the ID image and the selfie are required")
	}

	out, err = s.verifyFace(ctx, actor, appID, idImage, selfie, device)
	if err != nil {
		return out, err
	}

	draft, cerr := s.GenerateContract(ctx, actor, appID)
	if cerr != nil {
		s.logger.Warn("Contract drafting after biometric match failed", map[string]interface{}{
			"applicationId": appID,
			"error":         cerr,
		})
		return out, nil
	}
	out.Application = draft.Application
	out.Contract = &draft.Generation
	return out, nil
}

func (s *Service) verifyFace(ctx context.Context, actor models.Actor, appID string, idImage, selfie []byte, device models.DeviceContext) (*BiometricOutcome, error) {
	unlock, err := s.locker.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, c, err := s.load(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusBiometricsPending {
		return nil, errors.NewInvalidStateTransitionError(string(current.Status), string(statemachine.EventBiometricsVerified))
	}
	if limit := s.opts.BiometricMaxAttempts; limit > 0 && current.BiometricAttempts >= limit {
		return nil, errors.NewBiometricRetryExhaustedError(current.BiometricAttempts)
	}

	idKey := s.storeEvidence(ctx, appID, models.EvidenceIDCard, idImage)
	selfieKey := s.storeEvidence(ctx, appID, models.EvidenceSelfie, selfie)

	pctx, cancel := s.providerContext(ctx)
	result := s.verifier.MatchFace(pctx, providers.FaceMatchRequest{
		IDImage: idImage, SelfieImage: selfie, Country: c, Device: device,
	})
	cancel()

	var fireErr error
	updated, err := s.store.UpdateStatus(ctx, appID, func(a *models.LoanApplication) error {
		if a.Status != current.Status || a.BiometricAttempts != current.BiometricAttempts {
			return errors.NewConcurrentModificationError(appID)
		}
		v := result
		a.Verification = &v
		a.BiometricAttempts++
		now := s.now()
		if idKey != "" {
			a.AddEvidence(models.EvidenceIDCard, idKey, now)
		}
		if selfieKey != "" {
			a.AddEvidence(models.EvidenceSelfie, selfieKey, now)
		}
		fireErr = s.machine.Fire(a, statemachine.EventBiometricsVerified, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Biometrics verified", map[string]interface{}{
		"applicationId": appID,
		"isMatch":       result.IsMatch,
		"confidence":    result.Confidence,
		"attempt":       updated.BiometricAttempts,
		"fallback":      result.Fallback,
	})
	out := &BiometricOutcome{Application: updated, Verification: result}
	if fireErr != nil {
		return out, fireErr
	}
	s.changed(ctx, updated, statemachine.EventBiometricsVerified)
	return out, nil
}

// GenerateContract drafts the agreement for an application waiting for
// signature. It never changes the status. A placeholder generation is
// returned to the caller but not stored.
func (s *Service) GenerateContract(ctx context.Context, actor models.Actor, appID string) (draft *ContractDraft, err error) {
	ctx, end := s.span(ctx, "GenerateContract", actor, appID)
	defer func() { end(err) }()

	unlock, err := s.locker.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, c, err := s.load(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusContractPending {
		return nil, errors.NewInvalidStateTransitionError(string(current.Status), "generate_contract")
	}

	terms := providers.ContractTerms{
		Amount:         current.Amount,
		Months:         current.Months,
		MonthlyPayment: current.MonthlyPayment,
	}
	if user, uerr := s.store.GetUser(ctx, current.UserID); uerr == nil {
		terms.ApplicantName = user.Name
		terms.NationalID = user.NationalID
	}
	if terms.ApplicantName == "" && current.Verification != nil {
		terms.ApplicantName = current.Verification.ExtractedName
	}

	pctx, cancel := s.providerContext(ctx)
	gen := s.verifier.GenerateText(pctx, providers.TextRequest{Kind: providers.TemplateContract, Country: c, Contract: terms})
	cancel()

	if gen.Fallback {
		s.logger.Warn("Contract generation fell back to placeholder", map[string]interface{}{
			"applicationId": appID,
		})
		return &ContractDraft{Application: current, Generation: gen}, nil
	}

	updated, err := s.store.UpdateStatus(ctx, appID, func(a *models.LoanApplication) error {
		if a.Status != models.StatusContractPending || a.Signed {
			return errors.NewConcurrentModificationError(appID)
		}
		a.ContractText = gen.Text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ContractDraft{Application: updated, Generation: gen}, nil
}

// ConfirmContract signs the stored contract and hands the file to review.
func (s *Service) ConfirmContract(ctx context.Context, actor models.Actor, appID string) (app *models.LoanApplication, err error) {
	ctx, end := s.span(ctx, "ConfirmContract", actor, appID)
	defer func() { end(err) }()

	unlock, err := s.locker.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, _, err := s.load(ctx, actor, appID); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, appID, func(a *models.LoanApplication) error {
		a.Signed = true
		return s.machine.Fire(a, statemachine.EventContractSigned, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Contract signed", map[string]interface{}{
		"applicationId": appID,
		"status":        string(updated.Status),
	})
	s.changed(ctx, updated, statemachine.EventContractSigned)
	return updated, nil
}

func (s *Service) GetApplication(ctx context.Context, actor models.Actor, appID string) (*models.LoanApplication, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(app) {
		return nil, errors.NewUnauthorizedError("application belongs to another user")
	}
	return app, nil
}

// ListApplications returns the applications visible to actor. Non-admin
// callers only ever see their own, whatever the filter says.
func (s *Service) ListApplications(ctx context.Context, actor models.Actor, filter models.ApplicationFilter) ([]*models.LoanApplication, error) {
	var (
		apps []*models.LoanApplication
		err  error
	)
	switch {
	case actor.IsAdmin() || actor.Role == models.RoleSystem:
		if filter.UserID != "" {
			apps, err = s.store.ListByUser(ctx, filter.UserID)
		} else {
			apps, err = s.store.ListAll(ctx)
		}
	case actor.UserID != "":
		filter.UserID = actor.UserID
		apps, err = s.store.ListByUser(ctx, actor.UserID)
	default:
		return nil, errors.NewUnauthorizedError("anonymous callers cannot list applications")
	}
	if err != nil {
		return nil, err
	}
	return filter.Apply(apps), nil
}

// load reads the application, checks the actor may drive it and resolves its market.
func (s *Service) load(ctx context.Context, actor models.Actor, appID string) (*models.LoanApplication, country.Country, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, country.Country{}, err
	}
	if !actor.CanActOn(app) {
		s.logger.Warn("Unauthorized application access", map[string]interface{}{
			"applicationId": appID,
			"actor":         actor.UserID,
			"role":          string(actor.Role),
		})
		return nil, country.Country{}, errors.NewUnauthorizedError("application belongs to another user")
	}
	c, ok := s.countries.Lookup(app.Country)
	if !ok {
		return nil, country.Country{}, errors.NewInvalidLoanParametersError("unsupported country " + string(app.Country))
	}
	return app, c, nil
}

func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

// storeEvidence keeps an uploaded image. Failures are logged; the
// verification itself does not depend on the copy.
func (s *Service) storeEvidence(ctx context.Context, appID string, kind models.EvidenceKind, data []byte) string {
	if s.evidence == nil {
		return ""
	}
	timeout := s.opts.EvidenceTimeout
	if timeout <= 0 {
		timeout = defaultEvidenceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key, err := s.evidence.Put(ctx, appID, kind, data)
	if err != nil {
		s.logger.Warn("Failed to store evidence", map[string]interface{}{
			"applicationId": appID,
			"kind":          string(kind),
			"error":         err,
		})
		return ""
	}
	return key
}

func (s *Service) changed(ctx context.Context, app *models.LoanApplication, event statemachine.Event) {
	metrics.ApplicationTransitions.WithLabelValues(string(event), string(app.Status)).Inc()
	notify(ctx, s.observers, app, event)
}

// notify fans a change out to observers on a context that outlives the request.
func notify(ctx context.Context, observers []Observer, app *models.LoanApplication, event statemachine.Event) {
	if len(observers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, o := range observers {
		o.ApplicationChanged(ctx, app.Clone(), event)
	}
}

// Notify is used by other components that change applications outside the
// orchestrator, such as admin review.
func Notify(ctx context.Context, observers []Observer, app *models.LoanApplication, event statemachine.Event) {
	metrics.ApplicationTransitions.WithLabelValues(string(event), string(app.Status)).Inc()
	notify(ctx, observers, app, event)
}

func (s *Service) span(ctx context.Context, op string, actor models.Actor, appID string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.String("actor.role", string(actor.Role)),
		attribute.String("application.id", appID),
	))
	return ctx, func(err error) {
		if err != nil {
			code := errors.CodeOf(err)
			if code == "" {
				code = errors.ErrCodeInternal
			}
			metrics.OperationErrors.WithLabelValues(op, string(code)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(code))
		}
		span.End()
	}
}
