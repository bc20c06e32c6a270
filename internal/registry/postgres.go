package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"loan-orchestrator/internal/common/database"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
)

const uniqueViolation = "23505"

const appColumns = `id, user_id, country, amount, months, monthly_payment, document, verification,
	biometric_attempts, contract_text, signed, status, decision_note, evidence, version,
	submitted_at, updated_at`

const userColumns = `id, mobile, national_id, name, country, role, verified, password_hash, company, created_at`

// PostgresStore persists the registry in PostgreSQL. Read-modify-write runs
// under SELECT ... FOR UPDATE with a version check on write.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*models.LoanApplication, error) {
	var (
		app                    models.LoanApplication
		countryCode, status    string
		document, verification []byte
		evidence               []byte
	)
	err := row.Scan(
		&app.ID, &app.UserID, &countryCode, &app.Amount, &app.Months, &app.MonthlyPayment,
		&document, &verification, &app.BiometricAttempts, &app.ContractText, &app.Signed,
		&status, &app.DecisionNote, &evidence, &app.Version, &app.SubmittedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Country = country.Code(countryCode)
	app.Status = models.Status(status)

	if len(document) > 0 {
		app.Document = &models.DocumentAnalysisResult{}
		if err := json.Unmarshal(document, app.Document); err != nil {
			return nil, err
		}
	}
	if len(verification) > 0 {
		app.Verification = &models.VerificationResult{}
		if err := json.Unmarshal(verification, app.Verification); err != nil {
			return nil, err
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &app.Evidence); err != nil {
			return nil, err
		}
	}
	return &app, nil
}

// nullableJSON encodes v, mapping nil pointers to SQL NULL.
func nullableJSON(v interface{}, isNil bool) (interface{}, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func encodeArtifacts(app *models.LoanApplication) (document, verification, evidence interface{}, err error) {
	if document, err = nullableJSON(app.Document, app.Document == nil); err != nil {
		return
	}
	if verification, err = nullableJSON(app.Verification, app.Verification == nil); err != nil {
		return
	}
	refs := app.Evidence
	if refs == nil {
		refs = []models.EvidenceRef{}
	}
	evidence, err = json.Marshal(refs)
	return
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *PostgresStore) Insert(ctx context.Context, app *models.LoanApplication) (*models.LoanApplication, error) {
	stored, err := prepareInsert(app, s.now())
	if err != nil {
		return nil, err
	}
	document, verification, evidence, err := encodeArtifacts(stored)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loan_applications (`+appColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		stored.ID, stored.UserID, string(stored.Country), stored.Amount, stored.Months, stored.MonthlyPayment,
		document, verification, stored.BiometricAttempts, stored.ContractText, stored.Signed,
		string(stored.Status), stored.DecisionNote, evidence, stored.Version, stored.SubmittedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.NewDuplicateIDError("application", stored.ID)
		}
		return nil, errors.NewQueryExecutionFailedError("insert application", err)
	}
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.LoanApplication, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM loan_applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("application", id)
		}
		return nil, errors.NewQueryExecutionFailedError("get application", err)
	}
	return app, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, mutate MutateFunc) (*models.LoanApplication, error) {
	var updated *models.LoanApplication

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+appColumns+` FROM loan_applications WHERE id = $1 FOR UPDATE`, id)
		current, err := scanApplication(row)
		if err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return errors.NewNotFoundError("application", id)
			}
			return errors.NewQueryExecutionFailedError("lock application", err)
		}

		next, err := applyMutation(current, mutate, s.now())
		if err != nil {
			return err
		}
		document, verification, evidence, err := encodeArtifacts(next)
		if err != nil {
			return errors.NewInternalError(err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE loan_applications
			SET status = $2, document = $3, verification = $4, biometric_attempts = $5,
				contract_text = $6, signed = $7, decision_note = $8, evidence = $9,
				monthly_payment = $10, version = $11, updated_at = $12
			WHERE id = $1 AND version = $13`,
			next.ID, string(next.Status), document, verification, next.BiometricAttempts,
			next.ContractText, next.Signed, next.DecisionNote, evidence,
			next.MonthlyPayment, next.Version, next.UpdatedAt, current.Version,
		)
		if err != nil {
			return errors.NewQueryExecutionFailedError("update application", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.NewConcurrentModificationError(id)
		}

		updated = next
		return nil
	})
	if err != nil {
		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			return nil, err
		}
		return nil, errors.NewQueryExecutionFailedError("update application", err)
	}
	return updated, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*models.LoanApplication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list applications", err)
	}
	defer rows.Close()

	out := make([]*models.LoanApplication, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan application", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list applications", err)
	}
	return out, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*models.LoanApplication, error) {
	return s.list(ctx, `SELECT `+appColumns+` FROM loan_applications WHERE user_id = $1 ORDER BY submitted_at DESC, id`, userID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.LoanApplication, error) {
	return s.list(ctx, `SELECT `+appColumns+` FROM loan_applications ORDER BY submitted_at DESC, id`)
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user              models.User
		countryCode, role string
		company           []byte
	)
	err := row.Scan(&user.ID, &user.Mobile, &user.NationalID, &user.Name, &countryCode, &role,
		&user.Verified, &user.PasswordHash, &company, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.Country = country.Code(countryCode)
	user.Role = models.Role(role)
	if len(company) > 0 {
		user.Company = &models.CompanyProfile{}
		if err := json.Unmarshal(company, user.Company); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	stored, err := prepareUser(user, s.now())
	if err != nil {
		return nil, err
	}
	company, err := nullableJSON(stored.Company, stored.Company == nil)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		stored.ID, stored.Mobile, stored.NationalID, stored.Name, string(stored.Country), string(stored.Role),
		stored.Verified, stored.PasswordHash, company, stored.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.NewDuplicateIDError("user", stored.Mobile)
		}
		return nil, errors.NewQueryExecutionFailedError("insert user", err)
	}
	return stored, nil
}

func (s *PostgresStore) getUserWhere(ctx context.Context, q QueryRower, clause, arg string) (*models.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+clause, arg))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("user", arg)
		}
		return nil, errors.NewQueryExecutionFailedError("get user", err)
	}
	return user, nil
}

// QueryRower is satisfied by *sql.DB and *sql.Tx.
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserWhere(ctx, s.db, "id = $1", id)
}

func (s *PostgresStore) FindUserByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return s.getUserWhere(ctx, s.db, "mobile = $1", mobile)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, mutate UserMutateFunc) (*models.User, error) {
	var updated *models.User

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.getUserWhere(ctx, tx, "id = $1 FOR UPDATE", id)
		if err != nil {
			return err
		}
		next, err := applyUserMutation(current, mutate)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET verified = $2, password_hash = $3 WHERE id = $1`,
			id, next.Verified, next.PasswordHash,
		); err != nil {
			return errors.NewQueryExecutionFailedError("update user", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			return nil, err
		}
		return nil, errors.NewQueryExecutionFailedError("update user", err)
	}
	return updated, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	return nil
}
