// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Jarvis.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Jarvis errors for monitoring and recovery.
// Registry-level codes double as the error string stored on an agent result.
type ErrorCode string

const (
	// CodeAgentNotRegistered indicates a run was requested for an unknown agent name.
	CodeAgentNotRegistered ErrorCode = "agent_not_registered"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "timeout"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "internal"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "invalid_input"

	// CodeToolFailure indicates a tool (search, weather) call failed.
	CodeToolFailure ErrorCode = "tool_failure"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "not_found"

	// CodeMemoryError indicates a memory store error.
	CodeMemoryError ErrorCode = "memory_error"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "llm_error"

	// CodeAgentPanic indicates an agent unit panicked during its run.
	CodeAgentPanic ErrorCode = "agent_panic"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to an *Error.
// Unknown errors are wrapped as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var je *Error
	if stderrors.As(err, &je) {
		return je
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err, or any error it wraps, is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var je *Error
	if !stderrors.As(err, &je) {
		return false
	}
	return je.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
