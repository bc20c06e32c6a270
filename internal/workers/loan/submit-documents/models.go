package submitdocuments

import "loan-orchestrator/internal/models"

type Input struct {
	ApplicationID string               `json:"applicationId"`
	DocumentImage string               `json:"documentImage"` // base64 or data URL
	Device        models.DeviceContext `json:"device"`
}

type Output struct {
	ApplicationID    string  `json:"applicationId"`
	Status           string  `json:"status"`
	DocumentType     string  `json:"documentType,omitempty"`
	FraudRiskScore   float64 `json:"fraudRiskScore"`
	HighRisk         bool    `json:"highRisk"`
	ProviderFallback bool    `json:"providerFallback"`
}
