package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Field names of the extracted record
const (
	FieldVendor        = "vendor"
	FieldInvoiceDate   = "invoice_date"
	FieldTotalAmount   = "total_amount"
	FieldCurrency      = "currency"
	FieldInvoiceNumber = "invoice_number"
)

const schemaURL = "invoice.json"

// Field describes one field of the contract
type Field struct {
	Name        string
	Type        string
	Description string
	Schema      map[string]any
}

// Contract is the shape the model is asked to produce and that its output is
// validated against
type Contract struct {
	fields []Field

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// InvoiceContract is the contract for invoice extraction
var InvoiceContract = NewContract([]Field{
	{
		Name:        FieldVendor,
		Type:        "string",
		Description: "Supplier or company name that issued the invoice",
		Schema:      map[string]any{"type": "string", "minLength": 1},
	},
	{
		Name:        FieldInvoiceDate,
		Type:        "string",
		Description: "Invoice date as YYYY-MM-DD",
		Schema:      map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
	},
	{
		Name:        FieldTotalAmount,
		Type:        "number",
		Description: "Total amount due including tax",
		Schema:      map[string]any{"type": "number", "minimum": 0},
	},
	{
		Name:        FieldCurrency,
		Type:        "string",
		Description: "ISO 4217 currency code, three letters",
		Schema:      map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`},
	},
	{
		Name:        FieldInvoiceNumber,
		Type:        "string",
		Description: "Invoice number",
		Schema:      map[string]any{"type": "string", "minLength": 1},
	},
})

// NewContract creates a contract in which every field is required
func NewContract(fields []Field) *Contract {
	return &Contract{fields: fields}
}

// Fields returns the contract fields in declaration order
func (c *Contract) Fields() []Field {
	return slices.Clone(c.fields)
}

// Schema returns the contract as a JSON Schema (draft 2020-12) document
func (c *Contract) Schema() map[string]any {
	props := make(map[string]any, len(c.fields))
	required := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		prop := make(map[string]any, len(f.Schema)+1)
		for k, v := range f.Schema {
			prop[k] = v
		}
		prop["description"] = f.Description
		props[f.Name] = prop
		required = append(required, f.Name)
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

// Describe renders the field list and schema for inclusion in a model instruction
func (c *Contract) Describe() string {
	var b strings.Builder
	b.WriteString("Fields:\n")
	for _, f := range c.fields {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}

	schema, err := json.MarshalIndent(c.Schema(), "", "  ")
	if err == nil {
		b.WriteString("\nJSON Schema:\n")
		b.Write(schema)
		b.WriteString("\n")
	}
	return b.String()
}

// Sanitize removes keys that are not part of the contract and returns them sorted
func (c *Contract) Sanitize(m map[string]any) []string {
	var dropped []string
	for k := range m {
		if !c.has(k) {
			delete(m, k)
			dropped = append(dropped, k)
		}
	}
	slices.Sort(dropped)
	return dropped
}

// Validate checks m against the contract. A missing field, a null value or a value
// of the wrong type fails with a SchemaValidation error naming the field.
func (c *Contract) Validate(m map[string]any) error {
	for _, f := range c.fields {
		if v, ok := m[f.Name]; !ok || v == nil {
			return NewFieldError(KindSchemaValidation, f.Name, errors.New("missing required field"))
		}
	}

	schema, err := c.compile()
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	if err := schema.Validate(m); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafCause(ve)
			return NewFieldError(KindSchemaValidation, fieldFromLocation(leaf.InstanceLocation), errors.New(leaf.Message))
		}
		return NewError(KindSchemaValidation, err)
	}
	return nil
}

func (c *Contract) has(name string) bool {
	for _, f := range c.fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (c *Contract) compile() (*jsonschema.Schema, error) {
	c.once.Do(func() {
		data, err := json.Marshal(c.Schema())
		if err != nil {
			c.err = fmt.Errorf("marshaling schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
			c.err = fmt.Errorf("adding schema: %w", err)
			return
		}
		c.compiled, c.err = compiler.Compile(schemaURL)
	})
	return c.compiled, c.err
}

// leafCause follows the first cause down to the most specific validation error
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// fieldFromLocation turns a JSON pointer such as "/total_amount" into a field name
func fieldFromLocation(location string) string {
	field, _, _ := strings.Cut(strings.TrimPrefix(location, "/"), "/")
	return field
}
