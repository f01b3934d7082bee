// Package normalize converts locale-formatted dates and amounts into canonical forms.
package normalize

import "fmt"

// FormatError is returned when text cannot be converted to its canonical form
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid format %q: %s", e.Input, e.Reason)
}

func formatError(input, format string, args ...any) *FormatError {
	return &FormatError{Input: input, Reason: fmt.Sprintf(format, args...)}
}
