// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kairoserr defines the error codes surfaced at the API boundary and
// a typed error that carries the HTTP status alongside the code.
package kairoserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. Codes are stable strings and part of the
// API contract; handlers copy them verbatim into the `error_code` field.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeMissingField       Code = "MISSING_FIELD"
	CodeNonceMismatch      Code = "NONCE_MISMATCH"
	CodeProofHashMismatch  Code = "PROOF_HASH_MISMATCH"
	CodeTypeMismatch       Code = "TYPE_MISMATCH"
	CodeCommentTooShort    Code = "COMMENT_TOO_SHORT"
	CodeCommentIrrelevant  Code = "COMMENT_IRRELEVANT"
	CodeCommandFailed      Code = "COMMAND_FAILED"
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"
	CodeDuplicateChain     Code = "DUPLICATE_CHAIN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUserDeclined       Code = "USER_DECLINED"
	CodeElicitationFailed  Code = "ELICITATION_FAILED"
)

// Error is the typed error crossing package boundaries. Items carries
// additional payload for codes that include context (DUPLICATE_CHAIN lists
// the existing chain's steps so callers can show them).
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Items      []any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can write errors.Is(err, &Error{Code: ...}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Invalid reports malformed input at the RPC boundary.
func Invalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadRequest}
}

// NotFound reports a URI that resolves to no payload.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusNotFound}
}

// Duplicate reports a mint collision. items lists the existing steps.
func Duplicate(message string, items []any) *Error {
	return &Error{Code: CodeDuplicateChain, Message: message, HTTPStatus: http.StatusConflict, Items: items}
}

// Transient wraps an infrastructure failure as <OP>_FAILED with a 500 status.
// op is the operation name in upper case, e.g. "SEARCH".
func Transient(op string, cause error) *Error {
	return &Error{
		Code:       Code(op + "_FAILED"),
		Message:    fmt.Sprintf("%s failed: %v", op, cause),
		HTTPStatus: http.StatusInternalServerError,
		cause:      cause,
	}
}

// CodeOf extracts the Code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
