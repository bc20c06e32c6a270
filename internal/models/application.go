// internal/models/application.go
package models

import (
	"time"

	"loan-orchestrator/internal/country"
)

// Status is the lifecycle state of a loan application.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusDocumentsPending  Status = "DOCUMENTS_PENDING"
	StatusBiometricsPending Status = "BIOMETRICS_PENDING"
	StatusContractPending   Status = "CONTRACT_PENDING"
	StatusMatchingLender    Status = "MATCHING_LENDER"
	StatusApproved          Status = "APPROVED"
	StatusRejected          Status = "REJECTED"
	StatusNeedsDocuments    Status = "NEEDS_DOCUMENTS"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft, StatusDocumentsPending, StatusBiometricsPending, StatusContractPending,
	StatusMatchingLender, StatusApproved, StatusRejected, StatusNeedsDocuments,
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// HighRiskThreshold marks fraud scores that reviewers must look at closely.
const HighRiskThreshold = 50

// EvidenceKind names an uploaded image.
type EvidenceKind string

const (
	EvidenceDocument EvidenceKind = "document"
	EvidenceIDCard   EvidenceKind = "id-card"
	EvidenceSelfie   EvidenceKind = "selfie"
)

// EvidenceRef points at an image kept in the evidence store.
type EvidenceRef struct {
	Kind       EvidenceKind `json:"kind"`
	Key        string       `json:"key"`
	UploadedAt time.Time    `json:"uploadedAt"`
}

// LoanApplication is one borrower's loan request and its accumulated
// verification artifacts.
type LoanApplication struct {
	ID                string                  `json:"id"`
	UserID            string                  `json:"userId"`
	Country           country.Code            `json:"country"`
	Amount            float64                 `json:"amount"`
	Months            int                     `json:"months"`
	MonthlyPayment    float64                 `json:"monthlyPayment"`
	Document          *DocumentAnalysisResult `json:"documentAnalysis,omitempty"`
	Verification      *VerificationResult     `json:"verification,omitempty"`
	BiometricAttempts int                     `json:"biometricAttempts"`
	ContractText      string                  `json:"contractText,omitempty"`
	Signed            bool                    `json:"signed"`
	Status            Status                  `json:"status"`
	DecisionNote      string                  `json:"decisionNote,omitempty"`
	Evidence          []EvidenceRef           `json:"evidence,omitempty"`
	Version           int64                   `json:"version"`
	SubmittedAt       time.Time               `json:"submittedAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

// NewLoanApplication is the only constructor; applications always start in DRAFT.
func NewLoanApplication(userID string, code country.Code, amount float64, months int, now time.Time) *LoanApplication {
	return &LoanApplication{
		UserID:         userID,
		Country:        code,
		Amount:         amount,
		Months:         months,
		MonthlyPayment: country.MonthlyPayment(amount, months),
		Status:         StatusDraft,
		SubmittedAt:    now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// HighRisk reports whether the document scan flagged the application.
func (a *LoanApplication) HighRisk() bool {
	return a.Document != nil && a.Document.FraudRiskScore > HighRiskThreshold
}

// AddEvidence records an uploaded image reference.
func (a *LoanApplication) AddEvidence(kind EvidenceKind, key string, at time.Time) {
	a.Evidence = append(a.Evidence, EvidenceRef{Kind: kind, Key: key, UploadedAt: at.UTC()})
}

// Clone returns a deep copy so stored state is never shared with callers.
func (a *LoanApplication) Clone() *LoanApplication {
	if a == nil {
		return nil
	}
	c := *a
	if a.Document != nil {
		doc := *a.Document
		c.Document = &doc
	}
	if a.Verification != nil {
		v := *a.Verification
		c.Verification = &v
	}
	if a.Evidence != nil {
		c.Evidence = append([]EvidenceRef(nil), a.Evidence...)
	}
	return &c
}
