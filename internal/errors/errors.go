package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/catalog-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryCredential represents invalid or revoked store credentials (fatal)
	CategoryCredential ErrorCategory = "credential"
	// CategoryProvider represents transient source platform errors (network, 5xx, 429)
	CategoryProvider ErrorCategory = "provider"
	// CategoryTimeout represents an exhausted bulk polling budget
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryPartialBatch represents upsert batches with failed items
	CategoryPartialBatch ErrorCategory = "partial_batch"
	// CategoryIncomplete represents a run that fetched less than the reported total
	CategoryIncomplete ErrorCategory = "incomplete"
	// CategoryConflict represents a sync already running for the same store
	CategoryConflict ErrorCategory = "conflict"
	// CategoryValidation represents invalid input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCancelled represents a run stopped by its caller
	CategoryCancelled ErrorCategory = "cancelled"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "internal"
)

// Sentinel errors matched with errors.Is
var (
	ErrSyncInProgress     = stderrors.New("sync already in progress")
	ErrBulkTimeout        = stderrors.New("bulk export timed out, please retry")
	ErrConnectionInactive = stderrors.New("store connection is not active")
	ErrBulkUnsupported    = stderrors.New("platform does not support bulk export")
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Source platform errors

// NewCredentialError creates an error for rejected or missing store credentials
func NewCredentialError(platform types.Platform, message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCredential,
		StatusCode: http.StatusUnauthorized,
		Code:       "INVALID_CREDENTIALS",
		Message:    message,
		Cause:      cause,
		Details: map[string]interface{}{
			"platform": string(platform),
		},
	}
}

// NewConnectionInactiveError creates an error for a store connection that was disconnected
func NewConnectionInactiveError(account string, platform types.Platform) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCredential,
		StatusCode: http.StatusUnauthorized,
		Code:       "CONNECTION_INACTIVE",
		Message:    fmt.Sprintf("%s connection for account %s is not active", platform, account),
		Cause:      ErrConnectionInactive,
		Details: map[string]interface{}{
			"account":  account,
			"platform": string(platform),
		},
	}
}

// NewProviderError creates a transient source platform error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("source platform error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderRateLimitError creates a source rate limit error
func NewProviderRateLimitError(provider string, retryAfterSeconds int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMIT",
		Message:    fmt.Sprintf("source platform rate limit exceeded: %s", provider),
		Details: map[string]interface{}{
			"provider":   provider,
			"retryAfter": retryAfterSeconds,
		},
	}
}

// NewBulkOperationFailedError creates an error for a bulk job the platform reported as failed or cancelled
func NewBulkOperationFailedError(operationID string, state types.BulkState, errorCode string) *CategorizedError {
	msg := fmt.Sprintf("bulk operation %s ended in state %s", operationID, state)
	if errorCode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, errorCode)
	}
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "BULK_OPERATION_FAILED",
		Message:    msg,
		Details: map[string]interface{}{
			"bulkOperationId": operationID,
			"state":           string(state),
			"errorCode":       errorCode,
		},
	}
}

// NewBulkTimeoutError creates the recoverable polling-budget error
func NewBulkTimeoutError(operationID string, checks int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "BULK_TIMEOUT",
		Message:    "bulk export timed out, please retry",
		Cause:      ErrBulkTimeout,
		Details: map[string]interface{}{
			"bulkOperationId": operationID,
			"checks":          checks,
		},
	}
}

// Sync errors

// NewPartialBatchError reports failed items within an upsert batch
func NewPartialBatchError(failed, total int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPartialBatch,
		StatusCode: http.StatusMultiStatus,
		Code:       "PARTIAL_BATCH",
		Message:    fmt.Sprintf("%d of %d products failed to upsert", failed, total),
		Cause:      cause,
		Details: map[string]interface{}{
			"failed": failed,
			"total":  total,
		},
	}
}

// NewIncompleteSyncError reports a run that stopped short of the reported catalog size
func NewIncompleteSyncError(seen, reported int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIncomplete,
		StatusCode: http.StatusOK,
		Code:       "INCOMPLETE_SYNC",
		Message:    fmt.Sprintf("sync may be incomplete: %d of %d products fetched", seen, reported),
		Details: map[string]interface{}{
			"seen":     seen,
			"reported": reported,
		},
	}
}

// NewSyncInProgressError creates the conflict error for a concurrent run
func NewSyncInProgressError(account string, platform types.Platform) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_IN_PROGRESS",
		Message:    fmt.Sprintf("a %s sync is already running for account %s", platform, account),
		Cause:      ErrSyncInProgress,
		Details: map[string]interface{}{
			"account":  account,
			"platform": string(platform),
		},
	}
}

// NewCancelledError creates an error for a run stopped by cancellation
func NewCancelledError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCancelled,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_CANCELLED",
		Message:    "sync cancelled",
		Cause:      cause,
	}
}

// Request errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnsupportedPlatformError rejects an operation the platform cannot perform
func NewUnsupportedPlatformError(platform types.Platform, operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "UNSUPPORTED_OPERATION",
		Message:    fmt.Sprintf("%s does not support %s", platform, operation),
		Cause:      ErrBulkUnsupported,
		Details: map[string]interface{}{
			"platform":  string(platform),
			"operation": operation,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error, looking through wrapping
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return NewCancelledError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return &CategorizedError{
			Category:   CategoryProvider,
			StatusCode: http.StatusGatewayTimeout,
			Code:       "PROVIDER_TIMEOUT",
			Message:    "request timed out",
			Cause:      err,
		}
	case stderrors.Is(err, ErrSyncInProgress):
		return &CategorizedError{Category: CategoryConflict, StatusCode: http.StatusConflict, Code: "SYNC_IN_PROGRESS", Message: err.Error(), Cause: err}
	case stderrors.Is(err, ErrBulkTimeout):
		return &CategorizedError{Category: CategoryTimeout, StatusCode: http.StatusGatewayTimeout, Code: "BULK_TIMEOUT", Message: ErrBulkTimeout.Error(), Cause: err}
	case stderrors.Is(err, ErrConnectionInactive):
		return &CategorizedError{Category: CategoryCredential, StatusCode: http.StatusUnauthorized, Code: "CONNECTION_INACTIVE", Message: err.Error(), Cause: err}
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category := CategorySystem
	status := http.StatusInternalServerError
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_PLATFORM", "INVALID_METHOD":
		category, status = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "CONNECTION_NOT_FOUND", "SYNC_STATUS_NOT_FOUND":
		category, status = CategoryNotFound, http.StatusNotFound
	case "SYNC_IN_PROGRESS":
		category, status = CategoryConflict, http.StatusConflict
	case "INVALID_CREDENTIALS":
		category, status = CategoryCredential, http.StatusUnauthorized
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRecoverable reports whether a failed sync can be retried as-is.
// Credential and validation failures need user action first.
func IsRecoverable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryTimeout, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsCategory reports whether err categorizes as c
func IsCategory(err error, c ErrorCategory) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == c
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
