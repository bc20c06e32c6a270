package admindecision

type Input struct {
	ApplicationID string `json:"applicationId"`
	ReviewerID    string `json:"reviewerId"`
	Decision      string `json:"decision"` // approve | reject | request_documents
	Note          string `json:"note"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	DecisionNote  string `json:"decisionNote,omitempty"`
	ReviewerID    string `json:"reviewerId"`
}
