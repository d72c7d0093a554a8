// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

// Error is a sentinel error type for internal failures.
type Error string

const (
	ErrNotFound       Error = "no matching network found"
	ErrInvalidIP      Error = "invalid IP address"
	ErrInvalidNetwork Error = "invalid network"
	ErrSealed         Error = "index is sealed, no further adds accepted"
	ErrNotSealed      Error = "index is not sealed yet, call Build first"
	ErrStoreClosed    Error = "metastore is closed"
	ErrCorruptIndex   Error = "index snapshot is corrupt"
	ErrBulkLimit      Error = "bulk lookup accepts at most 100 addresses"
	ErrBulkNoValid    Error = "bulk input contains no valid addresses"
)

func (e Error) Error() string {
	return string(e)
}

// ErrorCode is the machine-readable code carried by every API error
// response. The enumeration is closed; clients switch on these values.
type ErrorCode string

const (
	CodeInvalidIPOrASN               ErrorCode = "INVALID_IP_OR_ASN"
	CodeInvalidHTTPMethod            ErrorCode = "INVALID_HTTP_METHOD"
	CodeInvalidBulkInputNotArray     ErrorCode = "INVALID_BULK_INPUT_NOT_ARRAY"
	CodeInvalidBulkInputEmpty        ErrorCode = "INVALID_BULK_INPUT_EMPTY"
	CodeInvalidBulkInputNoValid      ErrorCode = "INVALID_BULK_INPUT_NO_VALID_ENTRIES"
	CodeBulkLimitExceeded            ErrorCode = "BULK_LIMIT_EXCEEDED"
	CodeForbidden                    ErrorCode = "FORBIDDEN"
	CodeForbiddenBlacklisted         ErrorCode = "FORBIDDEN_BLACKLISTED"
	CodeForbiddenInvalidAPIKey       ErrorCode = "FORBIDDEN_INVALID_API_KEY"
	CodeForbiddenNotAllowed          ErrorCode = "FORBIDDEN_NOT_ALLOWED"
	CodeForbiddenAPIKeyRequired      ErrorCode = "FORBIDDEN_API_KEY_REQUIRED"
	CodeQuotaExceeded                ErrorCode = "QUOTA_EXCEEDED"
	CodeRateLimitExceeded            ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInvalidAPIKey                ErrorCode = "INVALID_API_KEY"
	CodeAPIKeyMissing                ErrorCode = "API_KEY_MISSING"
	CodeConfigUpdateFailed           ErrorCode = "CONFIG_UPDATE_FAILED"
	CodeInvalidConfig                ErrorCode = "INVALID_CONFIG"
	CodeUnexpectedServerError        ErrorCode = "UNEXPECTED_SERVER_ERROR"
	CodePM2LogsFailed                ErrorCode = "PM2_LOGS_FAILED"
	CodePM2StatusFailed              ErrorCode = "PM2_STATUS_FAILED"
)

// APIError is the JSON error payload returned on every non-200 response.
type APIError struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"error_code"`
}
