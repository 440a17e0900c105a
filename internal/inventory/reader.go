// Package inventory extracts endpoint names from a delimited inventory file.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
)

// DefaultColumn is the column read when Options.Column is empty.
const DefaultColumn = "endpoint"

// DefaultNullValues are the cell values treated as missing when
// Options.NullValues is nil. They match the markers spreadsheet and
// dataframe exports write for empty cells.
var DefaultNullValues = []string{
	"#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// Options controls how an inventory is parsed.
type Options struct {
	// Column is the header of the column holding endpoint names
	Column string
	// Delimiter separates fields; defaults to ','
	Delimiter rune
	// Encoding is a WHATWG label such as "windows-1252" or "utf-16le".
	// Empty means strict UTF-8. A byte-order mark always takes precedence.
	Encoding string
	// NullValues are cell values treated as missing. Nil selects
	// DefaultNullValues; an empty non-nil slice disables null matching.
	NullValues []string
	// Comment starts a line that is ignored; zero disables comments
	Comment rune
}

func (o Options) withDefaults() Options {
	if o.Column == "" {
		o.Column = DefaultColumn
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.NullValues == nil {
		o.NullValues = DefaultNullValues
	}
	return o
}

// ReadFile opens path and extracts the names of the configured column.
func ReadFile(path string, opts Options) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ldaplib.SourceNotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	return Read(f, opts)
}

// Read extracts the names of the configured column from r.
//
// The first record is the header. Cells that are missing, empty after
// trimming or equal to one of opts.NullValues are skipped. The remaining
// names are returned trimmed, in input order, duplicates included.
func Read(r io.Reader, opts Options) ([]string, error) {
	opts = opts.withDefaults()

	decoder, err := newDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(transform.NewReader(r, decoder))
	cr.Comma = opts.Delimiter
	cr.Comment = opts.Comment
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ldaplib.SchemaError{Column: opts.Column}
	}
	if err != nil {
		return nil, parseError(opts.Column, 1, err)
	}
	line, _ := cr.FieldPos(0)

	index := -1
	available := make([]string, len(header))
	for i, cell := range header {
		available[i] = cell
		if index < 0 && cell == opts.Column {
			index = i
		}
	}
	if index < 0 {
		return nil, &ldaplib.SchemaError{Column: opts.Column, Available: available}
	}

	nulls := make(map[string]struct{}, len(opts.NullValues))
	for _, v := range opts.NullValues {
		nulls[v] = struct{}{}
	}

	var names []string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError(opts.Column, line+1, err)
		}
		line, _ = cr.FieldPos(0)

		if index >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[index])
		if name == "" {
			continue
		}
		if _, null := nulls[name]; null {
			continue
		}
		names = append(names, name)
	}

	return names, nil
}

// newDecoder returns a transformer that honours a UTF-8 or UTF-16 byte-order
// mark and otherwise decodes with the named encoding. UTF-8 input is
// validated, never repaired: a replaced byte would turn into a lookup of a
// name that does not appear in the inventory.
func newDecoder(label string) (transform.Transformer, error) {
	strict := transform.Chain(unicode.BOMOverride(transform.Nop), encoding.UTF8Validator)
	if label == "" {
		return strict, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, ldaplib.NewConfigError("input.encoding", fmt.Sprintf("unknown encoding %q", label))
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return strict, nil
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// parseError converts a reader failure into a SchemaError. line is used
// when the failure carries no position of its own.
func parseError(column string, line int, err error) error {
	schemaErr := &ldaplib.SchemaError{Column: column, Line: line, Err: err}

	var pe *csv.ParseError
	if errors.As(err, &pe) {
		schemaErr.Line = pe.Line
	}
	if errors.Is(err, encoding.ErrInvalidUTF8) {
		schemaErr.Err = fmt.Errorf("%w; set input.encoding to the file's character set, e.g. windows-1252", err)
	}
	return schemaErr
}
