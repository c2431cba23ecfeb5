package internal

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrNoHeader = errors.New("csv has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one CSV data line keyed by lower-cased header. Columns missing from
// a short line are absent from Values.
type Row struct {
	Line   int
	Values map[string]string
}

// ReadCSV reads a header line followed by data lines. A UTF-8 BOM is
// skipped. Values are trimmed but otherwise untouched.
func ReadCSV(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		values := make(map[string]string, len(header))
		for i, col := range header {
			if i >= len(rec) || col == "" {
				continue
			}
			values[col] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, Row{Line: line, Values: values})
	}
	return rows, nil
}

func ReadCSVFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
