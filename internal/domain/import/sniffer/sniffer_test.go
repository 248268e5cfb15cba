package sniffer

import (
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Card statement export as downloaded from a Japanese issuer.
const sampleCardCSV = `利用日,利用店名,利用金額,支払区分
2024/3/1,ＡＭＡＺＯＮ．ＣＯ．ＪＰ,"1,280",1回

2024/3/5,AWS,"12,345",1回
`

const sampleSemicolonCSV = `Date;Description;Amount
2024-03-01;Coffee;450
2024-03-02;Rent;80000
`

func TestParse_CardCSV(t *testing.T) {
	doc, err := Parse(sampleCardCSV)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Delimiter != ',' {
		t.Errorf("Expected delimiter ',', got '%c'", doc.Delimiter)
	}

	expected := []string{"利用日", "利用店名", "利用金額", "支払区分"}
	if strings.Join(doc.Headers, "|") != strings.Join(expected, "|") {
		t.Errorf("Expected headers %v, got %v", expected, doc.Headers)
	}

	// The empty line is skipped.
	if len(doc.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(doc.Rows))
	}
	if got := doc.Rows[1]["利用金額"]; got != "12,345" {
		t.Errorf("Expected quoted amount '12,345', got %q", got)
	}
	if got := doc.Rows[1]["利用店名"]; got != "AWS" {
		t.Errorf("Expected description 'AWS', got %q", got)
	}

	if doc.Fingerprint == "" {
		t.Error("Expected non-empty fingerprint")
	}
}

func TestParse_SemicolonDelimiter(t *testing.T) {
	doc, err := Parse(sampleSemicolonCSV)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Delimiter != ';' {
		t.Errorf("Expected delimiter ';', got '%c'", doc.Delimiter)
	}
	if len(doc.Rows) != 2 || doc.Rows[1]["Description"] != "Rent" {
		t.Errorf("Unexpected rows: %v", doc.Rows)
	}
}

func TestParse_RaggedRows(t *testing.T) {
	doc, err := Parse("a,b,c\n1\n1,2,3,4\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(doc.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(doc.Rows))
	}
	short := doc.Rows[0]
	if short["a"] != "1" || short["b"] != "" || short["c"] != "" {
		t.Errorf("Short row not padded: %v", short)
	}
	long := doc.Rows[1]
	if len(long) != 3 || long["c"] != "3" {
		t.Errorf("Long row not truncated: %v", long)
	}
}

func TestParse_DuplicateAndBlankHeaders(t *testing.T) {
	doc, err := Parse("金額,,金額,金額\n1,2,3,4\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	expected := []string{"金額", "column_2", "金額_2", "金額_3"}
	if strings.Join(doc.Headers, "|") != strings.Join(expected, "|") {
		t.Errorf("Expected headers %v, got %v", expected, doc.Headers)
	}
	if doc.Rows[0]["金額_3"] != "4" {
		t.Errorf("Expected last cell under 金額_3, got %v", doc.Rows[0])
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse("   \n\n"); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Expected ErrEmptyFile, got %v", err)
	}

	_, err := Parse("date,description,amount\n2024-03-01,\"unterminated,100\n")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *ParseError, got %v", err)
	}
	if pe.Line == 0 || pe.Reason == "" {
		t.Errorf("Expected line and reason, got %+v", pe)
	}
}

func TestFingerprint_StableAcrossFormatting(t *testing.T) {
	a, err := Parse("Date,Description,Amount\n")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("date;  description ;AMOUNT\n")
	if err != nil {
		t.Fatal(err)
	}
	c, err := Parse("date,memo,amount\n")
	if err != nil {
		t.Fatal(err)
	}

	if a.Fingerprint != b.Fingerprint {
		t.Error("Expected same fingerprint for equivalent headers")
	}
	if a.Fingerprint == c.Fingerprint {
		t.Error("Expected different fingerprint for different headers")
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
	}{
		{"a,b,c", ','},
		{"a;b;c", ';'},
		{"a\tb\tc", '\t'},
		{"a|b|c", '|'},
		{"single", ','},
		{"a;b,c;d", ';'},
	}
	for _, tt := range tests {
		if got := DetectDelimiter(tt.line); got != tt.want {
			t.Errorf("DetectDelimiter(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestSuggestMapping(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    ColumnMapping
	}{
		{
			name:    "card export",
			headers: []string{"利用日", "利用店名", "利用金額", "支払区分"},
			want:    ColumnMapping{Date: "利用日", Description: "利用店名", Amount: "利用金額"},
		},
		{
			name:    "bank export",
			headers: []string{"取引日", "摘要", "お支払金額", "残高"},
			want:    ColumnMapping{Date: "取引日", Description: "摘要", Amount: "お支払金額"},
		},
		{
			name:    "english with typo",
			headers: []string{"Date", "Payee", "Ammount"},
			want:    ColumnMapping{Date: "Date", Description: "Payee", Amount: "Ammount"},
		},
		{
			name:    "nothing recognisable",
			headers: []string{"x", "y"},
			want:    ColumnMapping{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestMapping(tt.headers); got != tt.want {
				t.Errorf("SuggestMapping() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestColumnMapping_Missing(t *testing.T) {
	doc := &Document{Headers: []string{"日付", "摘要", "金額"}}
	m := ColumnMapping{Date: "日付", Description: "内容", Amount: "金額"}
	missing := m.Missing(doc)
	if len(missing) != 1 || missing[0] != "内容" {
		t.Errorf("Expected [内容], got %v", missing)
	}
	if !m.Complete() {
		t.Error("Expected mapping to be complete")
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"日付", "摘要", "金額"},
		{"2024/3/1", "家賃", "80000"},
		{"2024/3/2", "AWS", "1200"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	doc, err := ParseXLSX(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseXLSX failed: %v", err)
	}
	if len(doc.Headers) != 3 || len(doc.Rows) != 2 {
		t.Fatalf("Unexpected document: %+v", doc)
	}
	if doc.Rows[0]["摘要"] != "家賃" || doc.Rows[1]["金額"] != "1200" {
		t.Errorf("Unexpected rows: %v", doc.Rows)
	}
}
