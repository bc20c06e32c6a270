// Package errors provides the standardized error model shared by the API,
// the orchestrator and the workflow job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Validation errors: surfaced synchronously, never retried automatically.
const (
	ErrCodeInvalidLoanParameters   ErrorCode = "INVALID_LOAN_PARAMETERS"
	ErrCodeMissingDocumentResult   ErrorCode = "MISSING_DOCUMENT_RESULT"
	ErrCodeBiometricMismatch       ErrorCode = "BIOMETRIC_MISMATCH"
	ErrCodeBiometricRetryExhausted ErrorCode = "BIOMETRIC_RETRY_EXHAUSTED"
	ErrCodeContractNotSigned       ErrorCode = "CONTRACT_NOT_SIGNED"
	ErrCodeInvalidStateTransition  ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeInvalidInput            ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound                ErrorCode = "NOT_FOUND"
	ErrCodeDuplicateID             ErrorCode = "DUPLICATE_ID"
)

// Access and concurrency errors.
const (
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeAuthenticationFailed   ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
)

// Technical errors.
const (
	ErrCodeProviderUnavailable      ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected         ErrorCode = "PROVIDER_REJECTED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeStorageFailed            ErrorCode = "STORAGE_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches another StandardError by code so that errors.Is works against
// the sentinel values below.
func (e *StandardError) Is(target error) bool {
	var other *StandardError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidLoanParameters   = &StandardError{Code: ErrCodeInvalidLoanParameters}
	ErrMissingDocumentResult   = &StandardError{Code: ErrCodeMissingDocumentResult}
	ErrBiometricMismatch       = &StandardError{Code: ErrCodeBiometricMismatch}
	ErrBiometricRetryExhausted = &StandardError{Code: ErrCodeBiometricRetryExhausted}
	ErrContractNotSigned       = &StandardError{Code: ErrCodeContractNotSigned}
	ErrInvalidStateTransition  = &StandardError{Code: ErrCodeInvalidStateTransition}
	ErrNotFound                = &StandardError{Code: ErrCodeNotFound}
	ErrDuplicateID             = &StandardError{Code: ErrCodeDuplicateID}
	ErrUnauthorized            = &StandardError{Code: ErrCodeUnauthorized}
	ErrConcurrentModification  = &StandardError{Code: ErrCodeConcurrentModification}
	ErrProviderUnavailable     = &StandardError{Code: ErrCodeProviderUnavailable}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func NewInvalidLoanParametersError(details string) *StandardError {
	return newError(ErrCodeInvalidLoanParameters, "Loan amount or tenure is outside the allowed range", details, false)
}

func NewMissingDocumentResultError(appID string) *StandardError {
	return newError(ErrCodeMissingDocumentResult, "No document analysis result attached", "application "+appID, false)
}

// NewBiometricMismatchError is returned while the application stays in
// BIOMETRICS_PENDING; the caller may resubmit.
func NewBiometricMismatchError(reason string) *StandardError {
	return newError(ErrCodeBiometricMismatch, "Face did not match the identity document", reason, true)
}

func NewBiometricRetryExhaustedError(attempts int) *StandardError {
	return newError(ErrCodeBiometricRetryExhausted, "Biometric attempt limit reached",
		fmt.Sprintf("%d attempts used", attempts), false)
}

func NewContractNotSignedError(appID string) *StandardError {
	return newError(ErrCodeContractNotSigned, "Contract has not been generated and signed", "application "+appID, false)
}

func NewInvalidStateTransitionError(from, event string) *StandardError {
	return newError(ErrCodeInvalidStateTransition, "Transition not allowed from current state",
		fmt.Sprintf("state=%s event=%s", from, event), false).
		WithMetadata("state", from).
		WithMetadata("event", event)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false)
}

func NewNotFoundError(kind, id string) *StandardError {
	return newError(ErrCodeNotFound, kind+" not found", id, false)
}

func NewDuplicateIDError(kind, id string) *StandardError {
	return newError(ErrCodeDuplicateID, kind+" already exists", id, false)
}

func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Caller is not allowed to perform this operation", details, false)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthenticationFailed, "Authentication failed", details, false)
}

// NewConcurrentModificationError signals a lost read-modify-write race; the
// caller should re-read and retry.
func NewConcurrentModificationError(appID string) *StandardError {
	return newError(ErrCodeConcurrentModification, "Application was modified concurrently, retry the operation", appID, true)
}

func NewProviderUnavailableError(provider string, err error) *StandardError {
	return newError(ErrCodeProviderUnavailable, "Verification provider unavailable", detailsOf(provider, err), true)
}

// NewProviderRejectedError covers failures the provider signals itself
// (4xx, malformed response). These are never retried.
func NewProviderRejectedError(provider string, err error) *StandardError {
	return newError(ErrCodeProviderRejected, "Verification provider rejected the request", detailsOf(provider, err), false)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection failed", detailsOf("", err), true)
}

func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query failed", detailsOf(operation, err), true)
}

func NewSearchQueryFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Search query failed", detailsOf(operation, err), true)
}

func NewStorageFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeStorageFailed, "Evidence storage failed", detailsOf(operation, err), true)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Failed to send notification", detailsOf(channel, err), true)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", detailsOf("", err), false)
}

func detailsOf(prefix string, err error) string {
	switch {
	case err == nil:
		return prefix
	case prefix == "":
		return err.Error()
	default:
		return prefix + ": " + err.Error()
	}
}

// ==========================
// 4. Error Conversion
// ==========================

// Normalize always yields a StandardError; unknown errors become INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// CodeOf returns the code of a StandardError anywhere in the chain, or "".
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeStorageFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeConcurrentModification:
		return 2

	case ErrCodeProviderUnavailable:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
// BPMN codes are identical to internal codes.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes into the four families callers branch on.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeUnauthorized || code == ErrCodeAuthenticationFailed:
		return "UNAUTHORIZED"
	case code == ErrCodeConcurrentModification:
		return "CONCURRENT_MODIFICATION"
	case strings.HasPrefix(codeStr, "PROVIDER"):
		return "PROVIDER"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") ||
		strings.Contains(codeStr, "STORAGE") || strings.Contains(codeStr, "NOTIFICATION") ||
		code == ErrCodeInternal:
		return "TECHNICAL"
	default:
		return "VALIDATION"
	}
}

// HTTPStatus maps an error to the status code returned by the API.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidLoanParameters, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateID, ErrCodeInvalidStateTransition, ErrCodeConcurrentModification:
		return http.StatusConflict
	case ErrCodeMissingDocumentResult, ErrCodeBiometricMismatch, ErrCodeContractNotSigned:
		return http.StatusUnprocessableEntity
	case ErrCodeBiometricRetryExhausted:
		return http.StatusTooManyRequests
	case ErrCodeProviderUnavailable, ErrCodeProviderRejected:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed, ErrCodeSearchQueryFailed,
		ErrCodeStorageFailed, ErrCodeNotificationSendFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
