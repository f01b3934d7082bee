package scanning

import (
	"context"
	"fmt"

	"github.com/zombor/invoice-extract/internal/invoice"
)

// pingPrompt is sent by Ping to check the model answers at all
const pingPrompt = "Say 'pong' in one word."

// extractionPrompt is the shared instruction used by all providers
var extractionPrompt = fmt.Sprintf(`You are an information extraction system for invoices. Carefully read all text in the attached document and extract the invoice fields described below.

%s
Return ONLY a JSON object with exactly these keys.

Important:
- vendor is the company that issued the invoice, not the customer
- invoice_date is the issue date, not the due date, written as YYYY-MM-DD
- total_amount is the final amount due including tax, as a number
- currency is the ISO 4217 code (for example NOK, EUR, USD)
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`, invoice.InvoiceContract.Describe())

// Document is a document to extract from. MediaType has passed invoice.CheckMediaType.
type Document struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Scanner performs one multimodal inference call per document
type Scanner interface {
	// Scan sends the document and the extraction prompt to the model and returns its raw text.
	// Failures are *invoice.Error values of kind TransportFailure, AuthFailure or RemoteRejection.
	Scan(ctx context.Context, doc Document) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}

// ModelInfo describes a model offered by a provider
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// Diagnoser is implemented by scanners that can report on the configured model
type Diagnoser interface {
	// Provider names the backend, e.g. "gemini"
	Provider() string
	// Model is the configured model name
	Model() string
	// ModelInfo looks up the configured model
	ModelInfo(ctx context.Context) (*ModelInfo, error)
	// ListModels lists the models visible to the credentials whose name or display
	// name contains filter (case-insensitive). An empty filter matches everything.
	ListModels(ctx context.Context, filter string) ([]ModelInfo, error)
	// Ping sends a trivial prompt and returns the reply
	Ping(ctx context.Context) (string, error)
}
