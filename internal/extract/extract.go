// Package extract runs one document through the extraction pipeline: media type
// check, a single model call, and parsing of the answer into an invoice.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extract/internal/invoice"
	"github.com/zombor/invoice-extract/internal/scanning"
)

// ErrEmptyDocument is returned for a zero-length payload
var ErrEmptyDocument = errors.New("empty document")

// State is a step of a single extraction
type State int

const (
	StateReceived State = iota
	StateTypeChecked
	StateInvoked
	StateParsed
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateTypeChecked:
		return "type_checked"
	case StateInvoked:
		return "invoked"
	case StateParsed:
		return "parsed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Service extracts invoices from documents. It holds no per-request state and
// is safe for concurrent use if its scanner is.
type Service struct {
	scanner  scanning.Scanner
	contract *invoice.Contract
	logger   *slog.Logger
	newID    func() string
}

// NewService creates a Service on a scanner. A nil logger uses slog.Default().
func NewService(scanner scanning.Scanner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scanner:  scanner,
		contract: invoice.InvoiceContract,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// run tracks the state of one extraction
type run struct {
	state  State
	logger *slog.Logger
}

func (r *run) to(next State, args ...any) {
	r.logger.Debug("Extraction state changed", append([]any{"from", r.state, "to", next}, args...)...)
	r.state = next
}

func (r *run) fail(err error) error {
	kind, _ := invoice.KindOf(err)
	r.to(StateFailed, "kind", kind, "error", err)
	return err
}

// Extract runs the pipeline on one document.
//
// It returns *invoice.Structured when the model output satisfies the contract and
// *invoice.Degraded carrying the raw text when the output is malformed, a field
// cannot be normalized or the schema check fails. Unsupported media types fail
// with ErrUnsupportedMediaType before the model is called. Transport, auth and
// rejection failures are returned unchanged and never degrade.
func (s *Service) Extract(ctx context.Context, data []byte, mediaType string) (invoice.Result, error) {
	r := &run{
		state:  StateReceived,
		logger: s.logger.With("request_id", s.newID()),
	}

	if len(data) == 0 {
		return nil, r.fail(ErrEmptyDocument)
	}

	mt, err := invoice.CheckMediaType(mediaType)
	if err != nil {
		return nil, r.fail(err)
	}
	r.to(StateTypeChecked, "media_type", mt, "size", len(data))

	raw, err := s.scanner.Scan(ctx, scanning.Document{Data: data, MediaType: mt})
	if err != nil {
		return nil, r.fail(err)
	}
	r.to(StateInvoked, "response_length", len(raw))

	inv, err := s.contract.Parse(raw)
	r.to(StateParsed)
	if err != nil {
		kind, ok := invoice.KindOf(err)
		if !ok || !kind.Recoverable() {
			return nil, r.fail(err)
		}
		r.logger.Warn("Returning degraded extraction",
			"kind", kind,
			"error", err,
		)
		r.to(StateDone, "degraded", true)
		return &invoice.Degraded{RawText: raw, Reason: err}, nil
	}

	r.to(StateDone, "degraded", false)
	return &invoice.Structured{Invoice: *inv}, nil
}
