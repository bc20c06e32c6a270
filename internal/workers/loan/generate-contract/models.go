package generatecontract

type Input struct {
	ApplicationID string `json:"applicationId"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	ContractText  string `json:"contractText"`
}
