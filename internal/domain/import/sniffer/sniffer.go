// Package sniffer turns decoded statement text into header-keyed rows.
// It detects the delimiter, disambiguates header names and fingerprints the
// header set so a column mapping can be remembered per statement layout.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// ParseError reports malformed CSV structure. The import must stop when it
// is returned.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error on line %d: %s", e.Line, e.Reason)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Row maps a header name to its cell.
type Row map[string]string

// Document is a parsed statement.
type Document struct {
	Headers     []string // distinct header names, file order
	Rows        []Row
	Delimiter   rune // zero for spreadsheets
	Fingerprint string
}

// Preview returns up to n rows.
func (d *Document) Preview(n int) []Row {
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return d.Rows[:n]
}

// HasHeader reports whether name is one of the document's headers.
func (d *Document) HasHeader(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}

var delimiters = []rune{',', ';', '\t', '|'}

// DetectDelimiter picks the candidate that occurs most often in the header
// line. Ties keep candidate order, and comma is the default.
func DetectDelimiter(headerLine string) rune {
	best, bestCount := ',', 0
	for _, d := range delimiters {
		if c := strings.Count(headerLine, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

// Parse reads decoded CSV text. The first non-empty record is the header
// row, empty lines are skipped, short rows are padded with empty cells and
// extra cells are dropped.
func Parse(text string) (*Document, error) {
	text = strings.TrimPrefix(text, "\uFEFF")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyFile
	}

	delim := DetectDelimiter(firstLine(text))

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newParseError(err)
		}
		records = append(records, record)
	}

	doc, err := buildDocument(records)
	if err != nil {
		return nil, err
	}
	doc.Delimiter = delim
	return doc, nil
}

// ParseXLSX reads the first worksheet of an Excel statement.
func ParseXLSX(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Reason: "unreadable spreadsheet", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Reason: "unreadable worksheet " + sheets[0], Err: err}
	}
	return buildDocument(records)
}

func buildDocument(records [][]string) (*Document, error) {
	var headerIdx = -1
	for i, r := range records {
		if !blank(r) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrNoHeadersFound
	}

	headers := dedupeHeaders(records[headerIdx])
	doc := &Document{
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
	}

	for _, record := range records[headerIdx+1:] {
		if blank(record) {
			continue
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		doc.Rows = append(doc.Rows, row)
	}
	return doc, nil
}

// dedupeHeaders trims names, names blank columns column_N (1-based) and
// suffixes repeats with _2, _3, ...
func dedupeHeaders(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		name := h
		for seen[name] > 0 {
			seen[h]++
			name = fmt.Sprintf("%s_%d", h, seen[h])
		}
		seen[name]++
		out[i] = name
	}
	return out
}

// generateFingerprint creates a stable hash from header names so a mapping
// saved for one export layout is offered again for the next file.
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

func newParseError(err error) *ParseError {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &ParseError{Line: csvErr.Line, Reason: csvErr.Err.Error(), Err: err}
	}
	return &ParseError{Reason: err.Error(), Err: err}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
