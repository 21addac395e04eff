// Package contacts models an uploaded contact list as an explicit ordered
// header set plus rows of values aligned to it. Nothing in the pipeline passes
// loose string-keyed maps around; Map is only produced at the edge where a
// caller needs one.
package contacts

import (
	"errors"
	"fmt"
	"strings"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

var (
	ErrNoHeaders       = errors.New("contacts: header list is empty")
	ErrDuplicateHeader = errors.New("contacts: duplicate header")
	ErrBlankHeader     = errors.New("contacts: blank header")
	ErrRowWidth        = errors.New("contacts: row width does not match headers")
	ErrUnknownField    = errors.New("contacts: field not in header set")
)

// ─── TYPES ───────────────────────────────────────────────────────────────────

// Field is one header/value pair of a contact, in header order.
type Field struct {
	Name  string
	Value string
}

// List is an ordered contact list. Rows[i][j] is the value of Headers[j] for
// contact i; every row has exactly len(Headers) values once validated.
type List struct {
	Headers []string
	Rows    [][]string
}

// New builds a List from headers and positional rows and validates it.
func New(headers []string, rows [][]string) (List, error) {
	l := List{Headers: headers, Rows: rows}
	if err := l.Validate(); err != nil {
		return List{}, err
	}
	return l, nil
}

// FromRecords builds a List from keyed records, the shape the browser wizard
// produces after parsing a CSV. A key that is not a header is rejected so a
// misnamed column never silently drops data; a missing key becomes "".
func FromRecords(headers []string, records []map[string]string) (List, error) {
	if err := validateHeaders(headers); err != nil {
		return List{}, err
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[h] = i
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(headers))
		for k, v := range rec {
			j, ok := index[k]
			if !ok {
				return List{}, fmt.Errorf("%w: row %d: %q", ErrUnknownField, i, k)
			}
			row[j] = v
		}
		rows[i] = row
	}

	return List{Headers: headers, Rows: rows}, nil
}

// Validate checks the header set and that every row is as wide as it.
func (l List) Validate() error {
	if err := validateHeaders(l.Headers); err != nil {
		return err
	}
	for i, row := range l.Rows {
		if len(row) != len(l.Headers) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(row), len(l.Headers))
		}
	}
	return nil
}

func validateHeaders(headers []string) error {
	if len(headers) == 0 {
		return ErrNoHeaders
	}
	seen := make(map[string]struct{}, len(headers))
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w at position %d", ErrBlankHeader, i)
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateHeader, h)
		}
		seen[h] = struct{}{}
	}
	return nil
}

// Len returns the number of contacts.
func (l List) Len() int { return len(l.Rows) }

// Fields returns contact i as header-ordered pairs. Short rows yield "" for
// the missing positions.
func (l List) Fields(i int) []Field {
	row := l.Rows[i]
	out := make([]Field, len(l.Headers))
	for j, h := range l.Headers {
		out[j] = Field{Name: h}
		if j < len(row) {
			out[j].Value = row[j]
		}
	}
	return out
}

