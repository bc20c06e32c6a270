// Package providers wraps the external AI capabilities used during
// verification: face matching, document analysis and text generation.
//
// Backends return errors. The Adapter turns every backend failure into a
// well-formed fallback result so callers always get a usable value.
package providers

import (
	"context"

	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
)

// TemplateKind selects what GenerateText produces.
type TemplateKind string

const (
	TemplateContract TemplateKind = "contract"
	TemplateChat     TemplateKind = "chat"
)

// Fallback texts and results returned when a provider call is absorbed.
const (
	FaceMatchFailureReason = "Biometric analysis failed due to image quality or network error."
	DocumentFailureNote    = "AI failed to process document."
	ContractPlaceholder    = "System Error: Unable to generate legal contract at this time."
	ChatPlaceholder        = "System offline. Please try again later."
)

type FaceMatchRequest struct {
	IDImage     []byte
	SelfieImage []byte
	Country     country.Country
	Device      models.DeviceContext
}

type DocumentRequest struct {
	Image   []byte
	Country country.Country
	Device  models.DeviceContext
}

// ContractTerms feed the contract template.
type ContractTerms struct {
	ApplicantName  string
	NationalID     string
	Amount         float64
	Months         int
	MonthlyPayment float64
}

// ChatMessage is one turn of assistant history. Role is "user" or "model".
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type TextRequest struct {
	Kind     TemplateKind
	Country  country.Country
	Contract ContractTerms
	History  []ChatMessage
	Message  string
}

// Generation is the adapter's text result. Fallback is set when Text is a
// placeholder rather than provider output.
type Generation struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
}

// FaceMatcher compares a government ID photo with a live selfie.
type FaceMatcher interface {
	MatchFace(ctx context.Context, req FaceMatchRequest) (*models.VerificationResult, error)
}

// DocumentAnalyzer scans an income or address document.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (*models.DocumentAnalysisResult, error)
}

// TextGenerator produces contract and chat text.
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// Backend bundles all three capabilities.
type Backend interface {
	FaceMatcher
	DocumentAnalyzer
	TextGenerator
}

func defaultVerification() models.VerificationResult {
	return models.VerificationResult{
		IsMatch:    false,
		Confidence: 0,
		Reason:     FaceMatchFailureReason,
		Fallback:   true,
	}
}

func defaultDocument() models.DocumentAnalysisResult {
	return models.DocumentAnalysisResult{
		IsAuthentic:        false,
		DocumentType:       "Unknown",
		ExtractedIncome:    0,
		EmployerName:       "Unknown",
		FraudRiskScore:     100,
		DeviceRiskAnalysis: "System Error",
		RiskNarrative:      DocumentFailureNote,
		Fallback:           true,
	}
}

func placeholderFor(kind TemplateKind) string {
	if kind == TemplateContract {
		return ContractPlaceholder
	}
	return ChatPlaceholder
}
