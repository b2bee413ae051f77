package common

import (
	"errors"
	"fmt"
)

// Errors returned by the initiator engine
var (
	ErrInvalidParameters  = errors.New("rmap: invalid parameters")
	ErrNoFreeTransactions = errors.New("rmap: no free transactions")
	ErrSendFailed         = errors.New("rmap: send failed")
	ErrTimeout            = errors.New("rmap: timeout")
	ErrExecutionFailed    = errors.New("rmap: execution failed")
	ErrInvalidReply       = errors.New("rmap: reply carries more data than requested")
	ErrReplyTooShort      = errors.New("rmap: reply carries less data than requested")
	ErrStopped            = errors.New("rmap: initiator stopped")
)

// ExecutionError is returned when the target answered with a status other
// than StatusSuccess. It matches ErrExecutionFailed with errors.Is.
type ExecutionError struct {
	Status Status
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rmap: execution failed with status %d (%s)", uint8(e.Status), e.Status)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// StatusOf returns the remote status carried by err, if any
func StatusOf(err error) (Status, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Status, true
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Result Type
// --------------------------------------------------------------------------

// ResultType enumerates the outcomes of a read or write.
type ResultType uint8

const (
	ResultSuccess ResultType = iota
	ResultInvalidParameters
	ResultNoFreeTransactions
	ResultSendFailed
	ResultTimeout
	ResultExecutionFailed
	ResultInvalidReply
	ResultReplyTooShort
	ResultStopped
	ResultUnknown
)

// String returns the string representation of a ResultType.
func (r ResultType) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInvalidParameters:
		return "invalid_parameters"
	case ResultNoFreeTransactions:
		return "no_free_transactions"
	case ResultSendFailed:
		return "send_failed"
	case ResultTimeout:
		return "timeout"
	case ResultExecutionFailed:
		return "execution_failed"
	case ResultInvalidReply:
		return "invalid_reply"
	case ResultReplyTooShort:
		return "reply_too_short"
	case ResultStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ResultOf maps an error returned by the engine to its ResultType
func ResultOf(err error) ResultType {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrInvalidParameters):
		return ResultInvalidParameters
	case errors.Is(err, ErrNoFreeTransactions):
		return ResultNoFreeTransactions
	case errors.Is(err, ErrSendFailed):
		return ResultSendFailed
	case errors.Is(err, ErrTimeout):
		return ResultTimeout
	case errors.Is(err, ErrExecutionFailed):
		return ResultExecutionFailed
	case errors.Is(err, ErrInvalidReply):
		return ResultInvalidReply
	case errors.Is(err, ErrReplyTooShort):
		return ResultReplyTooShort
	case errors.Is(err, ErrStopped):
		return ResultStopped
	default:
		return ResultUnknown
	}
}
