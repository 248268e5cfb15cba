package sniffer

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// ColumnMapping names the headers holding the date, description and amount.
type ColumnMapping struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// Complete reports whether all three columns are set.
func (m ColumnMapping) Complete() bool {
	return m.Date != "" && m.Description != "" && m.Amount != ""
}

// Missing returns the mapped headers that doc does not contain.
func (m ColumnMapping) Missing(doc *Document) []string {
	var missing []string
	for _, h := range []string{m.Date, m.Description, m.Amount} {
		if !doc.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Header keywords seen in Japanese card and bank exports, plus English.
var (
	dateKeywords        = []string{"日付", "利用日", "ご利用日", "取引日", "年月日", "date"}
	descriptionKeywords = []string{"摘要", "内容", "利用店名", "ご利用店名", "お取引内容", "description", "merchant", "payee"}
	amountKeywords      = []string{"金額", "利用金額", "ご利用金額", "支払金額", "お支払金額", "amount"}
)

// SuggestMapping proposes a mapping from header names. It is a suggestion
// for the caller to confirm; unmatched columns are left empty.
func SuggestMapping(headers []string) ColumnMapping {
	used := make(map[string]bool, 3)
	pick := func(keywords []string) string {
		if h := bestHeader(headers, keywords, used); h != "" {
			used[h] = true
			return h
		}
		return ""
	}
	return ColumnMapping{
		Date:        pick(dateKeywords),
		Description: pick(descriptionKeywords),
		Amount:      pick(amountKeywords),
	}
}

// bestHeader prefers exact keyword matches, then containment, then an ASCII
// keyword within edit distance one (typos such as "ammount").
func bestHeader(headers, keywords []string, used map[string]bool) string {
	for _, pass := range []func(h, kw string) bool{
		func(h, kw string) bool { return h == kw },
		strings.Contains,
		func(h, kw string) bool {
			return isASCII(kw) && len(kw) >= 4 && levenshtein.ComputeDistance(h, kw) <= 1
		},
	} {
		for _, kw := range keywords {
			for _, header := range headers {
				if used[header] {
					continue
				}
				if pass(strings.ToLower(strings.TrimSpace(header)), kw) {
					return header
				}
			}
		}
	}
	return ""
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
