package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRequestBlocked is returned when the method's operating budget is critical.
	ErrRequestBlocked = errors.New("request blocked: operating budget critical")
)

// Portal error codes the client and the batch engine react to.
const (
	CodeQueryLimitExceeded  = "QUERY_LIMIT_EXCEEDED"
	CodeOperationTimeLimit  = "OPERATION_TIME_LIMIT"
	CodeMethodNotFound      = "ERROR_METHOD_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeBatchResultMissing  = "BATCH_RESULT_MISSING"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// TransportError is a failure of the physical request: network errors and
// non-2xx HTTP statuses.
type TransportError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitrix24 %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("bitrix24 %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is an error reported by the portal in the response body, either
// for a whole call or for one batch sub-command.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Description == "" {
		return "bitrix24 api error " + e.Code
	}
	return fmt.Sprintf("bitrix24 api error %s: %s", e.Code, e.Description)
}

// parseAPIError extracts a portal error from an error response body.
// Returns nil if the body does not carry one.
func parseAPIError(body []byte) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return nil
	}
	return &apiErr
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are answers, not outages
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classOf returns the classification carried by err, if any.
func classOf(err error) ErrorClass {
	var te *TransportError
	if errors.As(err, &te) {
		return te.ErrorClass
	}
	return ""
}
