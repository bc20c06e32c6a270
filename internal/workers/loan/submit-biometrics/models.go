package submitbiometrics

import "loan-orchestrator/internal/models"

type Input struct {
	ApplicationID string               `json:"applicationId"`
	IDImage       string               `json:"idImage"`
	SelfieImage   string               `json:"selfieImage"`
	Device        models.DeviceContext `json:"device"`
}

type Output struct {
	ApplicationID string  `json:"applicationId"`
	Status        string  `json:"status"`
	IsMatch       bool    `json:"isMatch"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason,omitempty"`
	Attempts      int     `json:"biometricAttempts"`
	ContractReady bool    `json:"contractReady"`
}
