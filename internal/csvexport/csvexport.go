// Package csvexport builds the downloadable artifact that merges the original
// contact rows with their generated sequences.
//
// encoding/csv only quotes fields that need it, and the artifact quotes every
// field unconditionally (header row included), so records are written by hand.
package csvexport

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/nyashahama/email-sequence-backend/internal/order"
)

// ErrEmptyInput is returned when there are no rows to export.
var ErrEmptyInput = errors.New("csvexport: no rows to export")

// Build renders headers, rows and results as CSV text.
//
// Layout: the original headers, then "Subject k" and "Email k" for k = 1..maxLen
// where maxLen is the longest result sequence. Positions beyond a row's own
// sequence are empty fields, so every record has len(headers)+2*maxLen fields.
// Records are separated by "\n" with no trailing newline. results is indexed
// by row; a missing entry is treated as an empty sequence.
func Build(headers []string, rows [][]string, results []order.Sequence) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}

	maxLen := 0
	for _, seq := range results {
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
	}

	var buf bytes.Buffer

	record := make([]string, 0, len(headers)+2*maxLen)
	record = append(record, headers...)
	for k := 1; k <= maxLen; k++ {
		n := strconv.Itoa(k)
		record = append(record, "Subject "+n, "Email "+n)
	}
	writeRecord(&buf, record)

	for i, row := range rows {
		record = record[:0]
		for j := range headers {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			record = append(record, v)
		}

		var seq order.Sequence
		if i < len(results) {
			seq = results[i]
		}
		for k := 0; k < maxLen; k++ {
			if k < len(seq) {
				record = append(record, seq[k].Subject, seq[k].Body)
				continue
			}
			record = append(record, "", "")
		}

		buf.WriteByte('\n')
		writeRecord(&buf, record)
	}

	return buf.Bytes(), nil
}

func writeRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
}

// Filename returns the attachment name for an order's artifact.
func Filename(orderID string) string {
	prefix := orderID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "sequences-" + prefix + ".csv"
}
