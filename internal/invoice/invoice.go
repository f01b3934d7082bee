// Package invoice defines the invoice extraction contract, the records it produces
// and the parsing of untrusted model output into those records.
package invoice

import (
	"encoding/json"

	"github.com/zombor/invoice-extract/internal/normalize"
)

// Invoice is a fully validated extraction. InvoiceDate and TotalAmount are canonical.
type Invoice struct {
	Vendor        string           `json:"vendor"`
	InvoiceDate   normalize.Date   `json:"invoice_date"`
	TotalAmount   normalize.Amount `json:"total_amount"`
	Currency      string           `json:"currency"`
	InvoiceNumber string           `json:"invoice_number"`
}

// Result is the outcome of a successful extraction: either *Structured or *Degraded
type Result interface {
	isResult()
}

// Structured carries a validated invoice
type Structured struct {
	Invoice Invoice
}

// Degraded carries the raw model output when it could not be turned into an Invoice
type Degraded struct {
	RawText string
	// Reason is the parse, normalization or schema failure
	Reason error
}

func (*Structured) isResult() {}
func (*Degraded) isResult()   {}

// wireRecord is the JSON shape returned to clients
type wireRecord struct {
	Vendor        *string           `json:"vendor"`
	InvoiceDate   *normalize.Date   `json:"invoice_date"`
	TotalAmount   *normalize.Amount `json:"total_amount"`
	Currency      *string           `json:"currency"`
	InvoiceNumber *string           `json:"invoice_number"`
	RawText       *string           `json:"rawText"`
}

// MarshalJSON encodes the invoice with a null rawText
func (s *Structured) MarshalJSON() ([]byte, error) {
	inv := s.Invoice
	return json.Marshal(wireRecord{
		Vendor:        &inv.Vendor,
		InvoiceDate:   &inv.InvoiceDate,
		TotalAmount:   &inv.TotalAmount,
		Currency:      &inv.Currency,
		InvoiceNumber: &inv.InvoiceNumber,
	})
}

// MarshalJSON encodes the raw text with null structured fields
func (d *Degraded) MarshalJSON() ([]byte, error) {
	raw := d.RawText
	return json.Marshal(wireRecord{RawText: &raw})
}
