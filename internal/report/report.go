// Package report writes verification records as a two-column delimited file.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	ldaplib "github.com/netresearch/ldap-endpoint-verify"
	"github.com/netresearch/ldap-endpoint-verify/internal/verify"
)

// Stdout is the path that selects Options.Stdout instead of a file.
const Stdout = "-"

// Labels are the status texts written to the report.
type Labels struct {
	Found    string `yaml:"found"`
	NotFound string `yaml:"not_found"`
	Error    string `yaml:"error"`
}

// DefaultLabels returns the labels used when none are configured.
func DefaultLabels() Labels {
	return Labels{Found: "Found", NotFound: "Not Found", Error: "Error"}
}

// WithDefaults fills every empty label from DefaultLabels.
func (l Labels) WithDefaults() Labels {
	def := DefaultLabels()
	if l.Found == "" {
		l.Found = def.Found
	}
	if l.NotFound == "" {
		l.NotFound = def.NotFound
	}
	if l.Error == "" {
		l.Error = def.Error
	}
	return l
}

// For returns the label of status.
func (l Labels) For(status verify.Status) string {
	switch status {
	case verify.StatusFound:
		return l.Found
	case verify.StatusNotFound:
		return l.NotFound
	default:
		return l.Error
	}
}

// Header holds the column titles of the report.
type Header struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

// DefaultHeader returns the header used when none is configured.
func DefaultHeader() Header {
	return Header{Name: "Computer", Status: "Status"}
}

// Options controls the report format.
type Options struct {
	// Delimiter separates the columns; defaults to ','
	Delimiter rune
	Header    Header
	Labels    Labels
	// UseCRLF terminates rows with \r\n
	UseCRLF bool
	// Stdout receives the report when the path is "-"
	Stdout io.Writer
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	def := DefaultHeader()
	if o.Header.Name == "" {
		o.Header.Name = def.Name
	}
	if o.Header.Status == "" {
		o.Header.Status = def.Status
	}
	o.Labels = o.Labels.WithDefaults()
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	return o
}

// Write writes the header and one row per record, in record order.
func Write(w io.Writer, records []verify.Record, opts Options) error {
	opts = opts.withDefaults()

	cw := csv.NewWriter(w)
	cw.Comma = opts.Delimiter
	cw.UseCRLF = opts.UseCRLF

	if err := cw.Write([]string{opts.Header.Name, opts.Header.Status}); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write([]string{rec.Name, opts.Labels.For(rec.Status)}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report to path. The file is replaced atomically:
// either the complete report is in place or an existing file is left
// untouched. Failures are returned as *ldaplib.OutputError.
func WriteFile(path string, records []verify.Record, opts Options) error {
	opts = opts.withDefaults()

	var buf bytes.Buffer
	if err := Write(&buf, records, opts); err != nil {
		return &ldaplib.OutputError{Path: path, Err: err}
	}

	if path == Stdout {
		if _, err := opts.Stdout.Write(buf.Bytes()); err != nil {
			return &ldaplib.OutputError{Path: path, Err: err}
		}
		return nil
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return &ldaplib.OutputError{Path: path, Err: err}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp report file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing report data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp report file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp report file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting report permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming report file to %s: %w", path, err)
	}

	success = true
	return nil
}
