// Package errors provides the domain error types for the tala audit analyzer.
//
// This package defines sentinel errors for conditions that callers branch on,
// such as a malformed payload or an unreadable input path. Using typed errors
// enables consistent handling with errors.Is() checks.
//
// Usage:
//
//	import talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
//
//	// Return a domain error
//	return fmt.Errorf("%w: %s", talaerrors.ErrInputPath, path)
//
//	// Check for domain errors
//	if talaerrors.IsInputPath(err) {
//	    // skip this path
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrMalformedPayload indicates an audit payload that does not follow the export grammar.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInputPath indicates an input path that is not a readable regular file.
	ErrInputPath = errors.New("invalid input path")

	// ErrInvalidTimestamp indicates a timestamp that does not use the audit layout.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidConfig indicates a configuration value that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShortRow indicates a CSV row with fewer columns than the audit layout needs.
	ErrShortRow = errors.New("short row")
)

// IsMalformedPayload reports whether any error in err's chain is ErrMalformedPayload.
func IsMalformedPayload(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}

// IsInputPath reports whether any error in err's chain is ErrInputPath.
func IsInputPath(err error) bool {
	return errors.Is(err, ErrInputPath)
}

// IsInvalidTimestamp reports whether any error in err's chain is ErrInvalidTimestamp.
func IsInvalidTimestamp(err error) bool {
	return errors.Is(err, ErrInvalidTimestamp)
}

// IsInvalidConfig reports whether any error in err's chain is ErrInvalidConfig.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsShortRow reports whether any error in err's chain is ErrShortRow.
func IsShortRow(err error) bool {
	return errors.Is(err, ErrShortRow)
}
