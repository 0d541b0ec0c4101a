package executor

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

type ErrorCode uint32

const (
	CodePermissionDenied    ErrorCode = 1
	CodeNotFound            ErrorCode = 2
	CodeAlreadyExists       ErrorCode = 3
	CodeInvalidAmount       ErrorCode = 4
	CodeInsufficientBalance ErrorCode = 5
	CodeInvalidSignatories  ErrorCode = 6
	CodeSameAccounts        ErrorCode = 7
	CodeInvalidArgument     ErrorCode = 8
	// CodeInternal is used for storage failures
	CodeInternal ErrorCode = 100
)

// CommandError describes why a command failed. Err is the underlying cause,
// errors.Is(err, session.ErrUnavailable) tells whether the command failed
// because the store went away.
type CommandError struct {
	CommandName string
	Code        ErrorCode
	Extra       string
	Err         error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.CommandName, e.Code, e.Extra)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// codedError carries the error code from validators to newCommandError.
type codedError struct {
	code ErrorCode
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func fail(code ErrorCode, msg string) error {
	return &codedError{code: code, err: errors.New(msg)}
}

func failf(code ErrorCode, format string, args ...any) error {
	return &codedError{code: code, err: fmt.Errorf(format, args...)}
}

func newCommandError(cmd types.Command, err error) *CommandError {
	name := "<nil>"
	if cmd != nil {
		name = cmd.Kind().String()
	}
	return &CommandError{
		CommandName: name,
		Code:        errorCode(err),
		Extra:       err.Error(),
		Err:         err,
	}
}

func errorCode(err error) ErrorCode {
	var ce *codedError
	switch {
	case errors.As(err, &ce):
		return ce.code
	case errors.Is(err, wsv.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, wsv.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, types.ErrAmountOverflow), errors.Is(err, types.ErrAmountUnderflow):
		return CodeInsufficientBalance
	case errors.Is(err, types.ErrPrecisionMismatch), errors.Is(err, types.ErrPrecisionTooLarge):
		return CodeInvalidAmount
	default:
		return CodeInternal
	}
}
