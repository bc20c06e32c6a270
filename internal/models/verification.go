package models

import (
	"fmt"
	"strings"
)

// VerificationResult is the outcome of a biometric face match. Immutable once produced.
type VerificationResult struct {
	IsMatch       bool    `json:"isMatch"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	ExtractedName string  `json:"extractedName,omitempty"`
	IDType        string  `json:"idType,omitempty"`
	Fallback      bool    `json:"fallback,omitempty"`
}

// DocumentAnalysisResult is the outcome of a document scan. Immutable once produced.
type DocumentAnalysisResult struct {
	IsAuthentic        bool    `json:"isAuthentic"`
	DocumentType       string  `json:"documentType"`
	ExtractedIncome    float64 `json:"extractedIncome"`
	EmployerName       string  `json:"employerName"`
	FraudRiskScore     float64 `json:"fraudRiskScore"`
	DeviceRiskAnalysis string  `json:"deviceRiskAnalysis,omitempty"`
	RiskNarrative      string  `json:"notes"`
	Fallback           bool    `json:"fallback,omitempty"`
}

// DeviceContext describes the client that captured the images.
type DeviceContext struct {
	UserAgent   string `json:"userAgent,omitempty"`
	Platform    string `json:"platform,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// String renders the context the way providers receive it in prompts.
func (d DeviceContext) String() string {
	parts := make([]string, 0, 4)
	if d.Platform != "" {
		parts = append(parts, "platform="+d.Platform)
	}
	if d.UserAgent != "" {
		parts = append(parts, "ua="+d.UserAgent)
	}
	if d.IPAddress != "" {
		parts = append(parts, "ip="+d.IPAddress)
	}
	if d.Fingerprint != "" {
		parts = append(parts, "fp="+d.Fingerprint)
	}
	if len(parts) == 0 {
		return "Unknown Device"
	}
	return strings.Join(parts, " ")
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Normalize clamps scores into [0,100].
func (r *VerificationResult) Normalize() {
	r.Confidence = clampScore(r.Confidence)
}

// Normalize clamps the fraud score into [0,100] and income to >= 0.
func (r *DocumentAnalysisResult) Normalize() {
	r.FraudRiskScore = clampScore(r.FraudRiskScore)
	if r.ExtractedIncome < 0 {
		r.ExtractedIncome = 0
	}
}

func (r VerificationResult) String() string {
	return fmt.Sprintf("match=%t confidence=%.0f", r.IsMatch, r.Confidence)
}
