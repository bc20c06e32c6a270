package startapplication

type Input struct {
	UserID string  `json:"userId"`
	Amount float64 `json:"amount"`
	Months int     `json:"months"`
}

type Output struct {
	ApplicationID  string  `json:"applicationId"`
	Status         string  `json:"status"`
	Country        string  `json:"country"`
	MonthlyPayment float64 `json:"monthlyPayment"`
}
