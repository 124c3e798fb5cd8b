package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/csimplestring/go-csv/detector"

	"cvt2bids/internal/fileutil"
)

// Load reads a delimited participant file. Tabs are expected; any other
// delimiter the detector settles on (typically a comma) is tolerated.
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	r, err := Parse(bytes.NewReader(data), detectDelimiter(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return r, nil
}

func detectDelimiter(data []byte) rune {
	header := firstLine(data)
	if bytes.ContainsRune(header, '\t') || !bytes.ContainsRune(header, ',') {
		return '\t'
	}
	// Name characters such as '_' can outscore the separator on short files.
	for _, candidate := range detector.New().DetectDelimiter(bytes.NewReader(data), '"') {
		if candidate == "," || candidate == ";" {
			return rune(candidate[0])
		}
	}
	return ','
}

func firstLine(data []byte) []byte {
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		return data[:idx]
	}
	return data
}

// Parse decodes a registry from r using delim as the field separator.
func Parse(r io.Reader, delim rune, opts ...Option) (*Registry, error) {
	reg := newRegistry(opts)

	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		reg.columns = slices.Clone(requiredColumns)
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for _, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" || slices.Contains(reg.columns, name) {
			continue
		}
		reg.columns = append(reg.columns, name)
	}
	if !slices.Contains(reg.columns, ColumnParticipantID) {
		return nil, fmt.Errorf("missing %s column", ColumnParticipantID)
	}
	for _, col := range requiredColumns {
		reg.ensureColumn(col)
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		rw := &row{cells: map[string]string{}, ids: map[string][]string{}}
		for i, name := range header {
			name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
			if i >= len(record) || name == "" {
				continue
			}
			value := strings.TrimSpace(record[i])
			if reg.isIDColumn(name) {
				rw.ids[name] = ParseIDList(value)
				continue
			}
			rw.cells[name] = value
		}
		pid := rw.cells[ColumnParticipantID]
		if pid == "" {
			continue
		}
		if reg.Has(pid) {
			return nil, fmt.Errorf("line %d: duplicate participant %s", line, pid)
		}
		reg.appendRow(rw)
	}
	reg.last = reg.MaxNumericID()
	return reg, nil
}

// Save writes the registry tab-separated, replacing path atomically.
func (r *Registry) Save(path string) error {
	if err := fileutil.WriteAtomic(path, 0o644, r.Write); err != nil {
		return fmt.Errorf("save registry %s: %w", path, err)
	}
	return nil
}

// Write encodes the registry as TSV to w.
func (r *Registry) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'
	if err := writer.Write(r.columns); err != nil {
		return fmt.Errorf("write registry header: %w", err)
	}
	for _, record := range r.Records() {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write registry row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush registry: %w", err)
	}
	return nil
}
