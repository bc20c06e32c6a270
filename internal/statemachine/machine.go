// Package statemachine owns the loan application lifecycle. It is pure: it
// validates and applies transitions to an in-memory application and never
// performs I/O.
package statemachine

import (
	"fmt"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
)

// Event triggers a transition.
type Event string

const (
	EventStart              Event = "start"
	EventDocumentsAnalyzed  Event = "documents_analyzed"
	EventBiometricsVerified Event = "biometrics_verified"
	EventContractSigned     Event = "contract_signed"
	EventApprove            Event = "approve"
	EventReject             Event = "reject"
	EventRequestDocuments   Event = "request_documents"
)

type guardFunc func(m *Machine, app *models.LoanApplication) error

type transition struct {
	to    models.Status
	guard guardFunc
}

var transitions = map[models.Status]map[Event]transition{
	models.StatusDraft: {
		EventStart: {to: models.StatusDocumentsPending, guard: requireValidLoan},
	},
	models.StatusDocumentsPending: {
		EventDocumentsAnalyzed: {to: models.StatusBiometricsPending, guard: requireDocument},
	},
	models.StatusBiometricsPending: {
		EventBiometricsVerified: {to: models.StatusContractPending, guard: requireBiometricMatch},
	},
	models.StatusContractPending: {
		EventContractSigned: {to: models.StatusMatchingLender, guard: requireSignedContract},
	},
	models.StatusMatchingLender: {
		EventApprove:          {to: models.StatusApproved},
		EventReject:           {to: models.StatusRejected},
		EventRequestDocuments: {to: models.StatusNeedsDocuments},
	},
	models.StatusNeedsDocuments: {
		EventDocumentsAnalyzed: {to: models.StatusMatchingLender, guard: requireDocument},
	},
}

var adminEvents = map[Event]bool{
	EventApprove:          true,
	EventReject:           true,
	EventRequestDocuments: true,
}

// Machine validates loan parameters against the country table.
type Machine struct {
	countries *country.Table
}

func New(countries *country.Table) *Machine {
	return &Machine{countries: countries}
}

// Fire applies event to app. On error app is left unchanged.
func (m *Machine) Fire(app *models.LoanApplication, event Event, actor models.Actor) error {
	if adminEvents[event] && !actor.IsAdmin() {
		return errors.NewUnauthorizedError(fmt.Sprintf("%s requires an admin, caller role %s", event, actor.Role))
	}
	if app.Status.IsTerminal() {
		return errors.NewInvalidStateTransitionError(string(app.Status), string(event))
	}

	t, ok := transitions[app.Status][event]
	if !ok {
		return errors.NewInvalidStateTransitionError(string(app.Status), string(event))
	}
	if t.guard != nil {
		if err := t.guard(m, app); err != nil {
			return err
		}
	}

	if event == EventStart {
		app.MonthlyPayment = country.MonthlyPayment(app.Amount, app.Months)
	}
	app.Status = t.to
	return nil
}

// Next reports the target state of event from from, if the edge exists.
func Next(from models.Status, event Event) (models.Status, bool) {
	t, ok := transitions[from][event]
	return t.to, ok
}

// Allowed reports whether from → to is an edge of the lifecycle graph.
// A status is always allowed to stay where it is.
func Allowed(from, to models.Status) bool {
	if from == to {
		return true
	}
	for _, t := range transitions[from] {
		if t.to == to {
			return true
		}
	}
	return false
}

// IsAdminEvent reports whether only an admin may fire event.
func IsAdminEvent(event Event) bool {
	return adminEvents[event]
}

func requireValidLoan(m *Machine, app *models.LoanApplication) error {
	c, ok := m.countries.Lookup(app.Country)
	if !ok {
		return errors.NewInvalidLoanParametersError(fmt.Sprintf("unsupported country %q", app.Country))
	}
	if err := c.ValidateLoan(app.Amount, app.Months); err != nil {
		return errors.NewInvalidLoanParametersError(err.Error())
	}
	return nil
}

func requireDocument(_ *Machine, app *models.LoanApplication) error {
	if app.Document == nil {
		return errors.NewMissingDocumentResultError(app.ID)
	}
	return nil
}

func requireBiometricMatch(_ *Machine, app *models.LoanApplication) error {
	if app.Verification == nil {
		return errors.NewBiometricMismatchError("no verification result attached")
	}
	if !app.Verification.IsMatch {
		return errors.NewBiometricMismatchError(app.Verification.Reason)
	}
	return nil
}

func requireSignedContract(_ *Machine, app *models.LoanApplication) error {
	if app.ContractText == "" || !app.Signed {
		return errors.NewContractNotSignedError(app.ID)
	}
	return nil
}
