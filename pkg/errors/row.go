package errors

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
)

// Code represents a classified row or source failure.
type Code string

const (
	CodeMalformedPayload Code = "malformed_payload"
	CodeShortRow         Code = "short_row"
	CodeCSVSyntax        Code = "csv_syntax"
	CodeInputPath        Code = "input_path"
	CodeCancelled        Code = "cancelled"
	CodeProcessing       Code = "processing_error"
)

// RowError is a structured error for a row (or a whole source) that could not
// be processed.
type RowError struct {
	Code    Code
	Source  string
	Line    int
	Message string
	Cause   error
}

func (e *RowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", e.Code, e.Source, e.Line, e.Message)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *RowError with the appropriate code.
// If the error doesn't match any known condition, it returns a RowError with CodeProcessing.
func ClassifyError(err error, source string, line int) *RowError {
	if err == nil {
		return nil
	}

	var existing *RowError
	if errors.As(err, &existing) {
		return existing
	}

	re := &RowError{
		Source:  source,
		Line:    line,
		Message: err.Error(),
		Cause:   err,
	}

	var parseErr *csv.ParseError
	switch {
	case IsMalformedPayload(err):
		re.Code = CodeMalformedPayload
	case IsShortRow(err):
		re.Code = CodeShortRow
	case IsInputPath(err):
		re.Code = CodeInputPath
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		re.Code = CodeCancelled
		re.Message = "run interrupted"
	case errors.As(err, &parseErr):
		re.Code = CodeCSVSyntax
		if re.Line == 0 {
			re.Line = parseErr.Line
		}
	default:
		re.Code = CodeProcessing
	}
	return re
}
