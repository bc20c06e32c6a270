package confirmcontract

type Input struct {
	ApplicationID string `json:"applicationId"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	Signed        bool   `json:"signed"`
	// HighRisk lets the review process route to a senior reviewer.
	HighRisk bool `json:"highRisk"`
}
