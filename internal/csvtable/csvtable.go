// Package csvtable reads and writes the on-disk table format: UTF-8 with a
// byte-order mark, ';'-separated fields and a single header row.
//
// Other processes read and write the same files, so the delimiter, the BOM
// and the header convention must not change.
package csvtable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
)

// Separator is the field delimiter.
const Separator = ';'

var bom = []byte{0xEF, 0xBB, 0xBF}

// Encode renders columns and rows. Values for columns a row does not carry
// are written empty; keys that are not in columns are dropped.
func Encode(columns []string, rows []model.Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bom)
	w := csv.NewWriter(&buf)
	w.Comma = Separator
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	record := make([]string, len(columns))
	for i, r := range rows {
		for j, c := range columns {
			record[j] = r[c]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("encoding row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding table: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data into its header columns and rows. Empty input yields no
// columns and no rows. Short records are padded with empty values; records
// with more fields than the header are rejected.
func Decode(data []byte) ([]string, []model.Row, error) {
	data = bytes.TrimPrefix(data, bom)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = Separator
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding header: %w", err)
	}
	columns := make([]string, len(header))
	copy(columns, header)

	var rows []model.Row
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("decoding table: %w", err)
		}
		if len(record) > len(columns) {
			return nil, nil, fmt.Errorf("decoding table: record %d has %d fields, header has %d", line, len(record), len(columns))
		}
		row := make(model.Row, len(columns))
		for i, c := range columns {
			if i < len(record) {
				row[c] = record[i]
			} else {
				row[c] = ""
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
