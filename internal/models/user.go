package models

import (
	"time"

	"loan-orchestrator/internal/country"
)

// Role of a registered user.
type Role string

const (
	RoleBorrower       Role = "BORROWER"
	RoleFreelanceAgent Role = "AGENT_FREELANCE"
	RoleCorporateAgent Role = "AGENT_COMPANY"
	RoleAdmin          Role = "ADMIN"

	// RoleSystem is used by workflow job workers; it is never assigned to a user.
	RoleSystem Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBorrower, RoleFreelanceAgent, RoleCorporateAgent, RoleAdmin:
		return true
	}
	return false
}

// CompanyProfile is required for corporate agents.
type CompanyProfile struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registrationNumber"`
	Address            string `json:"address,omitempty"`
}

// User is an identity record. Only Verified and PasswordHash change after creation.
type User struct {
	ID           string          `json:"id"`
	Mobile       string          `json:"mobile"`
	NationalID   string          `json:"icNumber"`
	Name         string          `json:"name"`
	Country      country.Code    `json:"country"`
	Role         Role            `json:"role"`
	Verified     bool            `json:"isVerified"`
	PasswordHash string          `json:"-"`
	Company      *CompanyProfile `json:"companyProfile,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Company != nil {
		company := *u.Company
		c.Company = &company
	}
	return &c
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// SystemActor identifies calls coming from workflow job workers.
func SystemActor() Actor {
	return Actor{UserID: "system", Role: RoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanActOn reports whether the actor may drive the borrower side of app.
func (a Actor) CanActOn(app *LoanApplication) bool {
	return a.Role == RoleSystem || (a.UserID != "" && a.UserID == app.UserID)
}

// CanView reports whether the actor may read app.
func (a Actor) CanView(app *LoanApplication) bool {
	return a.IsAdmin() || a.CanActOn(app)
}
