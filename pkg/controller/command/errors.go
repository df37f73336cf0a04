/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

// Type tells a caller error apart from a failure of the command itself.
type Type int32

const (
	// ValidationError means the request was rejected before anything was executed.
	ValidationError Type = iota

	// ExecuteError means the command failed while executing.
	ExecuteError
)

// Code identifies a command error. Codes are allocated per Group.
type Code int32

// UnknownStatus is the zero Code.
const UnknownStatus Code = 0

// Group is the first Code of a command's range. Groups are spaced 1000 apart.
type Group int32

const (
	// Common codes are shared by all commands.
	Common Group = 1000

	// Relay codes belong to the relay node commands.
	Relay Group = 2000

	// Messaging codes belong to the agent messaging commands.
	Messaging Group = 3000
)

// Error is returned by a command Exec.
type Error interface {
	error
	Code() Code
	Type() Type
}

// NewValidationError wraps err as a ValidationError.
func NewValidationError(code Code, err error) Error {
	return &commandError{err: err, code: code, errType: ValidationError}
}

// NewExecuteError wraps err as an ExecuteError.
func NewExecuteError(code Code, err error) Error {
	return &commandError{err: err, code: code, errType: ExecuteError}
}

type commandError struct {
	err     error
	code    Code
	errType Type
}

func (c *commandError) Error() string { return c.err.Error() }

func (c *commandError) Unwrap() error { return c.err }

func (c *commandError) Code() Code { return c.code }

func (c *commandError) Type() Type { return c.errType }
