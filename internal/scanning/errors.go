package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"

	"github.com/zombor/invoice-extract/internal/invoice"
)

// classify wraps a provider error in an *invoice.Error of the matching kind
func classify(provider string, err error) error {
	return invoice.NewError(kindOf(err), fmt.Errorf("%s: %w", provider, err))
}

// kindOf decides whether a failed model call is a transport, authentication or
// rejection problem. Anything unrecognised is treated as transport.
func kindOf(err error) invoice.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return invoice.KindTransportFailure
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return invoice.KindRemoteRejection
	}

	if apiErr := apiErrorOf(err); apiErr != nil {
		if code := apiErr.HTTPCode(); code > 0 {
			return kindForStatus(code)
		}
		if st := apiErr.GRPCStatus(); st != nil {
			return kindForCode(st.Code())
		}
	}

	if code := httpStatusOf(err); code > 0 {
		return kindForStatus(code)
	}

	return invoice.KindTransportFailure
}

// ProviderStatus returns the HTTP status the provider answered a failed call
// with, or 0 if the call never got an answer. gRPC codes with an HTTP
// equivalent are translated.
func ProviderStatus(err error) int {
	if apiErr := apiErrorOf(err); apiErr != nil {
		if code := apiErr.HTTPCode(); code > 0 {
			return code
		}
		if st := apiErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.NotFound:
				return http.StatusNotFound
			case codes.PermissionDenied:
				return http.StatusForbidden
			case codes.Unauthenticated:
				return http.StatusUnauthorized
			}
			return 0
		}
	}
	return httpStatusOf(err)
}

func apiErrorOf(err error) *apierror.APIError {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		apiErr, _ = apierror.FromError(err)
	}
	return apiErr
}

func httpStatusOf(err error) int {
	var httpErr *googleapi.Error
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code
	}
	return 0
}

func kindForStatus(code int) invoice.Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return invoice.KindAuthFailure
	case code == http.StatusRequestTimeout || code >= 500:
		return invoice.KindTransportFailure
	case code >= 400:
		return invoice.KindRemoteRejection
	}
	return invoice.KindTransportFailure
}

func kindForCode(code codes.Code) invoice.Kind {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return invoice.KindAuthFailure
	case codes.InvalidArgument, codes.NotFound, codes.ResourceExhausted, codes.FailedPrecondition,
		codes.OutOfRange, codes.Unimplemented, codes.AlreadyExists:
		return invoice.KindRemoteRejection
	}
	return invoice.KindTransportFailure
}

// statusError is a non-2xx answer from an HTTP provider
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.code, e.body)
}
