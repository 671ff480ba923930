// Package artifact reads the raw exports downloaded from the provider portals.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// WaterCSV is the format of the water portal export.
var WaterCSV = CSVOptions{Delimiter: ';', LazyQuotes: true, TrimSpace: true}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns a UTF-8 reader over data. Exports that are not valid UTF-8
// are decoded as Windows-1252.
func Decode(data []byte) io.Reader {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return bytes.NewReader(data)
	}
	return transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
}

// ReadCSV parses every row of r. Rows may have any number of fields.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return rows, eris.Wrap(err, "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}
		rows = append(rows, record)
	}
}

// ReadCSVFile loads every row of the CSV file at path.
func ReadCSVFile(ctx context.Context, path string, opts CSVOptions) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}

	rows, err := ReadCSV(ctx, Decode(data), opts)
	if err != nil {
		return rows, eris.Wrapf(err, "csv: parse %s", path)
	}
	return rows, nil
}
