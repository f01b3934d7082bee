package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/zombor/invoice-extract/internal/normalize"
)

var (
	codeFence = regexp.MustCompile("(?im)^```(?:json)?\\s*|```\\s*$")
	jsonTag   = regexp.MustCompile(`(?i)^json\s*`)
)

// Parse turns raw model output into an Invoice using InvoiceContract
func Parse(raw string) (*Invoice, error) {
	return InvoiceContract.Parse(raw)
}

// Parse turns raw model output into an Invoice.
//
// Failures are *Error values of kind MalformedResponse (no JSON object could be
// decoded), FieldNormalization (invoice_date or total_amount is not in a known
// format) or SchemaValidation (a field is missing or has the wrong type).
func (c *Contract) Parse(raw string) (*Invoice, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, NewError(KindMalformedResponse, err)
	}

	if dropped := c.Sanitize(obj); len(dropped) > 0 {
		slog.Debug("Dropped unknown fields from model output", "fields", dropped)
	}

	var (
		date   normalize.Date
		amount normalize.Amount
	)

	if v, ok := obj[FieldInvoiceDate].(string); ok {
		date, err = normalize.NormalizeDate(v)
		if err != nil {
			return nil, NewFieldError(KindFieldNormalization, FieldInvoiceDate, err)
		}
		obj[FieldInvoiceDate] = date.String()
	}

	switch v := obj[FieldTotalAmount].(type) {
	case string:
		amount, err = normalize.NormalizeCurrencyAmount(v)
		if err != nil {
			return nil, NewFieldError(KindFieldNormalization, FieldTotalAmount, err)
		}
		obj[FieldTotalAmount] = json.Number(amount.String())
	case json.Number:
		f, ferr := v.Float64()
		if ferr == nil {
			amount, err = normalize.AmountFromFloat(f)
		} else {
			err = ferr
		}
		if err != nil {
			return nil, NewFieldError(KindFieldNormalization, FieldTotalAmount, err)
		}
		obj[FieldTotalAmount] = json.Number(amount.String())
	}

	for _, k := range []string{FieldVendor, FieldCurrency, FieldInvoiceNumber} {
		if s, ok := obj[k].(string); ok {
			obj[k] = strings.TrimSpace(s)
		}
	}
	if s, ok := obj[FieldCurrency].(string); ok {
		obj[FieldCurrency] = strings.ToUpper(s)
	}

	if err := c.Validate(obj); err != nil {
		return nil, err
	}

	return &Invoice{
		Vendor:        obj[FieldVendor].(string),
		InvoiceDate:   date,
		TotalAmount:   amount,
		Currency:      obj[FieldCurrency].(string),
		InvoiceNumber: obj[FieldInvoiceNumber].(string),
	}, nil
}

// decodeObject finds the JSON object in raw model output. Code fences and a
// leading "json" tag are removed; if the text is an array its first element is used.
func decodeObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("empty response")
	}

	if v, err := decode(text); err == nil {
		return asObject(v)
	}

	text = strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
	text = jsonTag.ReplaceAllString(text, "")

	if v, err := decode(text); err == nil {
		return asObject(v)
	}

	obj := firstObject(text)
	if obj == "" {
		return nil, errors.New("no JSON object found in response")
	}
	v, err := decode(obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return asObject(v)
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func asObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) == 0 {
			return map[string]any{}, nil
		}
		if m, ok := t[0].(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("expected a JSON object, got %T", v)
}

// firstObject returns the first balanced {...} in text, ignoring braces inside strings
func firstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
