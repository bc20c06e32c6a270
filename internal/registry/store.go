// Package registry is the single source of truth for applications and users.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

// MutateFunc edits a private copy of an application inside an atomic
// read-modify-write. Returning an error discards the edit.
type MutateFunc func(app *models.LoanApplication) error

// UserMutateFunc edits a private copy of a user.
type UserMutateFunc func(user *models.User) error

// Store is implemented by the in-memory and Postgres registries.
type Store interface {
	// Insert assigns an id when app.ID is empty and fails with DUPLICATE_ID
	// when the id is taken.
	Insert(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error)
	Get(ctx context.Context, id string) (*models.LoanApplication, error)
	// UpdateStatus atomically loads, mutates and stores an application. The
	// mutation may not change identity fields or move the status backwards.
	UpdateStatus(ctx context.Context, id string, mutate MutateFunc) (*models.LoanApplication, error)
	ListByUser(ctx context.Context, userID string) ([]*models.LoanApplication, error)
	ListAll(ctx context.Context) ([]*models.LoanApplication, error)

	InsertUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByMobile(ctx context.Context, mobile string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, mutate UserMutateFunc) (*models.User, error)

	Ping(ctx context.Context) error
}

// NewID returns a fresh application or user id.
func NewID() string {
	return uuid.NewString()
}

func prepareInsert(app *models.LoanApplication, now time.Time) (*models.LoanApplication, error) {
	if app == nil {
		return nil, errors.NewInvalidInputError("application is nil")
	}
	if !app.Status.Valid() {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown status %q", app.Status))
	}
	if app.UserID == "" {
		return nil, errors.NewInvalidInputError("application has no owner")
	}
	stored := app.Clone()
	if stored.ID == "" {
		stored.ID = NewID()
	}
	stored.Version = 1
	if stored.SubmittedAt.IsZero() {
		stored.SubmittedAt = now.UTC()
	}
	stored.UpdatedAt = now.UTC()
	return stored, nil
}

// applyMutation runs mutate on a copy of current and enforces the invariants
// every store shares.
func applyMutation(current *models.LoanApplication, mutate MutateFunc, now time.Time) (*models.LoanApplication, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.ID != current.ID || next.UserID != current.UserID || next.Country != current.Country {
		return nil, errors.NewInvalidInputError("identity fields are immutable")
	}
	if next.Version != current.Version {
		return nil, errors.NewInvalidInputError("version is managed by the registry")
	}
	if !statemachine.Allowed(current.Status, next.Status) {
		return nil, errors.NewInvalidStateTransitionError(string(current.Status), "set "+string(next.Status))
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

func prepareUser(user *models.User, now time.Time) (*models.User, error) {
	if user == nil {
		return nil, errors.NewInvalidInputError("user is nil")
	}
	if user.Mobile == "" {
		return nil, errors.NewInvalidInputError("user mobile is required")
	}
	stored := user.Clone()
	if stored.ID == "" {
		stored.ID = NewID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now.UTC()
	}
	return stored, nil
}

func applyUserMutation(current *models.User, mutate UserMutateFunc) (*models.User, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID || next.Mobile != current.Mobile || next.Role != current.Role ||
		next.NationalID != current.NationalID || next.Country != current.Country {
		return nil, errors.NewInvalidInputError("only verification and password may change")
	}
	return next, nil
}

func sortNewest(apps []*models.LoanApplication) {
	sort.SliceStable(apps, func(i, j int) bool {
		if apps[i].SubmittedAt.Equal(apps[j].SubmittedAt) {
			return apps[i].ID < apps[j].ID
		}
		return apps[i].SubmittedAt.After(apps[j].SubmittedAt)
	})
}
