package engine

import "fmt"

// Input error taxonomy. Any InputError aborts a run before simulation.

type ErrorCode string

const (
	CodeInvalidParams ErrorCode = "INVALID_PARAMS"
	CodeEmptySeries   ErrorCode = "EMPTY_SERIES"
	CodeNonMonotonic  ErrorCode = "NON_MONOTONIC_DATES"
	CodeMalformedBar  ErrorCode = "MALFORMED_BAR"
	CodeUnknownSystem ErrorCode = "UNKNOWN_ENTRY_SYSTEM"
)

type InputError struct {
	Code       ErrorCode `json:"code"`
	Instrument string    `json:"instrument,omitempty"`
	Msg        string    `json:"message"`
}

func (e *InputError) Error() string {
	if e.Instrument != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Instrument, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func inputErr(code ErrorCode, instrument, format string, args ...any) *InputError {
	return &InputError{Code: code, Instrument: instrument, Msg: fmt.Sprintf(format, args...)}
}
