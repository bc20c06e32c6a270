package models

import (
	"sort"
	"strings"

	"loan-orchestrator/internal/country"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ApplicationFilter narrows listApplications results. Zero values match everything.
type ApplicationFilter struct {
	UserID       string       `json:"userId,omitempty" form:"userId"`
	Status       Status       `json:"status,omitempty" form:"status"`
	Country      country.Code `json:"country,omitempty" form:"country"`
	Query        string       `json:"query,omitempty" form:"q"`
	HighRiskOnly bool         `json:"highRiskOnly,omitempty" form:"highRisk"`
	Limit        int          `json:"limit,omitempty" form:"limit"`
	Offset       int          `json:"offset,omitempty" form:"offset"`
}

// Normalized clamps paging values.
func (f ApplicationFilter) Normalized() ApplicationFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Country = country.Code(strings.ToUpper(string(f.Country)))
	f.Query = strings.TrimSpace(f.Query)
	return f
}

// Matches applies every non-paging criterion.
func (f ApplicationFilter) Matches(app *LoanApplication) bool {
	if f.UserID != "" && app.UserID != f.UserID {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.Country != "" && app.Country != f.Country {
		return false
	}
	if f.HighRiskOnly && !app.HighRisk() {
		return false
	}
	if f.Query != "" && !matchesQuery(app, f.Query) {
		return false
	}
	return true
}

func matchesQuery(app *LoanApplication, q string) bool {
	q = strings.ToLower(q)
	fields := []string{app.ID, app.UserID}
	if app.Document != nil {
		fields = append(fields, app.Document.EmployerName, app.Document.DocumentType)
	}
	if app.Verification != nil {
		fields = append(fields, app.Verification.ExtractedName)
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Apply filters, orders newest first and pages apps.
func (f ApplicationFilter) Apply(apps []*LoanApplication) []*LoanApplication {
	f = f.Normalized()
	out := make([]*LoanApplication, 0, len(apps))
	for _, app := range apps {
		if f.Matches(app) {
			out = append(out, app)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if f.Offset >= len(out) {
		return []*LoanApplication{}
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
