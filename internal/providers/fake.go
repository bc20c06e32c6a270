package providers

import (
	"context"
	"fmt"
	"sync"

	"loan-orchestrator/internal/models"
)

// Fake is a deterministic Backend for local runs and tests. Zero-value
// results fall back to a clean match, a low-risk payslip and a short text.
type Fake struct {
	mu           sync.Mutex
	Verification *models.VerificationResult
	Document     *models.DocumentAnalysisResult
	Text         string
	// Err, when set, is returned by every call.
	Err error
	// TextErr, when set, is returned by GenerateText only.
	TextErr error
	calls   map[string]int
}

func NewFake() *Fake {
	return &Fake{calls: make(map[string]int)}
}

func (f *Fake) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.Err
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) MatchFace(_ context.Context, req FaceMatchRequest) (*models.VerificationResult, error) {
	if err := f.record(opMatchFace); err != nil {
		return nil, err
	}
	if f.Verification != nil {
		v := *f.Verification
		return &v, nil
	}
	return &models.VerificationResult{
		IsMatch:    true,
		Confidence: 94,
		Reason:     "Facial landmarks consistent between ID and selfie.",
		IDType:     req.Country.IDDocumentName,
	}, nil
}

func (f *Fake) AnalyzeDocument(_ context.Context, _ DocumentRequest) (*models.DocumentAnalysisResult, error) {
	if err := f.record(opAnalyzeDocument); err != nil {
		return nil, err
	}
	if f.Document != nil {
		d := *f.Document
		return &d, nil
	}
	return &models.DocumentAnalysisResult{
		IsAuthentic:     true,
		DocumentType:    "Payslip",
		ExtractedIncome: 6500,
		EmployerName:    "Acme Holdings",
		FraudRiskScore:  8,
		RiskNarrative:   "No tampering detected.",
	}, nil
}

func (f *Fake) GenerateText(_ context.Context, req TextRequest) (string, error) {
	if err := f.record(opGenerateText); err != nil {
		return "", err
	}
	if f.TextErr != nil {
		return "", f.TextErr
	}
	if f.Text != "" {
		return f.Text, nil
	}
	if req.Kind == TemplateContract {
		return fmt.Sprintf("FINANCIAL FACILITATION AGREEMENT\n\nApplicant: %s\nPrincipal: %s %.2f\nTenure: %d months\nMonthly repayment: %s %.2f\nGoverning law: %s\n",
			req.Contract.ApplicantName, req.Country.Symbol, req.Contract.Amount, req.Contract.Months,
			req.Country.Symbol, req.Contract.MonthlyPayment, req.Country.LegalFramework), nil
	}
	return "Thanks for your question. Borrowers pay no fees on " + platformName + ".", nil
}
