package invoice

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures
type Kind int

const (
	KindUnsupportedMediaType Kind = iota + 1
	KindTransportFailure
	KindAuthFailure
	KindRemoteRejection
	KindMalformedResponse
	KindFieldNormalization
	KindSchemaValidation
)

// Sentinel errors, one per Kind. An *Error matches the sentinel of its Kind with errors.Is.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrTransportFailure     = errors.New("transport failure")
	ErrAuthFailure          = errors.New("authentication failure")
	ErrRemoteRejection      = errors.New("remote rejection")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrFieldNormalization   = errors.New("field normalization error")
	ErrSchemaValidation     = errors.New("schema validation error")
)

var sentinels = map[Kind]error{
	KindUnsupportedMediaType: ErrUnsupportedMediaType,
	KindTransportFailure:     ErrTransportFailure,
	KindAuthFailure:          ErrAuthFailure,
	KindRemoteRejection:      ErrRemoteRejection,
	KindMalformedResponse:    ErrMalformedResponse,
	KindFieldNormalization:   ErrFieldNormalization,
	KindSchemaValidation:     ErrSchemaValidation,
}

func (k Kind) String() string {
	switch k {
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindTransportFailure:
		return "transport_failure"
	case KindAuthFailure:
		return "auth_failure"
	case KindRemoteRejection:
		return "remote_rejection"
	case KindMalformedResponse:
		return "malformed_response"
	case KindFieldNormalization:
		return "field_normalization_error"
	case KindSchemaValidation:
		return "schema_validation_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind whose String is s
func ParseKind(s string) (Kind, bool) {
	for k := range sentinels {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Recoverable reports whether failures of this kind describe the shape of the
// model output rather than connectivity or the request itself
func (k Kind) Recoverable() bool {
	return k == KindMalformedResponse || k == KindFieldNormalization || k == KindSchemaValidation
}

// Error is an extraction failure. Field is set for normalization and schema failures.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

// NewError creates an Error of the given kind
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewFieldError creates an Error of the given kind that names the offending field
func NewFieldError(kind Kind, field string, err error) *Error {
	return &Error{Kind: kind, Field: field, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of e's Kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
