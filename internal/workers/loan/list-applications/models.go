package listapplications

type Input struct {
	UserID       string `json:"userId"`
	Status       string `json:"status"`
	Country      string `json:"country"`
	Query        string `json:"query"`
	HighRiskOnly bool   `json:"highRiskOnly"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

// Summary keeps process variables small; full records stay in the registry.
type Summary struct {
	ApplicationID  string  `json:"applicationId"`
	UserID         string  `json:"userId"`
	Country        string  `json:"country"`
	Status         string  `json:"status"`
	Amount         float64 `json:"amount"`
	Months         int     `json:"months"`
	MonthlyPayment float64 `json:"monthlyPayment"`
	FraudRiskScore float64 `json:"fraudRiskScore"`
	HighRisk       bool    `json:"highRisk"`
	SubmittedAt    string  `json:"submittedAt"` // RFC 3339
}

type Output struct {
	Applications []Summary `json:"applications"`
	Count        int       `json:"count"`
}
